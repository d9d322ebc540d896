package nostr

import "strconv"

type Kind uint16

func (kind Kind) String() string { return "kind::" + kind.Name() + "<" + strconv.Itoa(int(kind)) + ">" }
func (kind Kind) Name() string {
	switch kind {
	case KindProfileMetadata:
		return "ProfileMetadata"
	case KindTextNote:
		return "TextNote"
	case KindRecommendServer:
		return "RecommendServer"
	case KindFollowList:
		return "FollowList"
	case KindEncryptedDirectMessage:
		return "EncryptedDirectMessage"
	case KindDeletion:
		return "Deletion"
	case KindRepost:
		return "Repost"
	case KindReaction:
		return "Reaction"
	case KindDirectMessage:
		return "DirectMessage"
	case KindRelayListMetadata:
		return "RelayListMetadata"
	case KindClientAuthentication:
		return "ClientAuthentication"
	case KindArticle:
		return "Article"
	}
	return "unknown"
}

const (
	KindProfileMetadata        Kind = 0
	KindTextNote               Kind = 1
	KindRecommendServer        Kind = 2
	KindFollowList             Kind = 3
	KindEncryptedDirectMessage Kind = 4
	KindDeletion               Kind = 5
	KindRepost                 Kind = 6
	KindReaction               Kind = 7
	KindDirectMessage          Kind = 14
	KindRelayListMetadata      Kind = 10002
	KindClientAuthentication   Kind = 22242
	KindArticle                Kind = 30023
)

func (kind Kind) IsReplaceable() bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000)
}

func (kind Kind) IsEphemeral() bool {
	return kind >= 20000 && kind < 30000
}

func (kind Kind) IsAddressable() bool {
	return kind >= 30000 && kind < 40000
}
