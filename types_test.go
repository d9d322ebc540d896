package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHexTypesJSON(t *testing.T) {
	const hexValue = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

	for _, tc := range []struct {
		name string
		val  any
		ptr  func() any
	}{
		{"id", MustIDFromHex(hexValue), func() any { return new(ID) }},
		{"pubkey", MustPubKeyFromHex(hexValue), func() any { return new(PubKey) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.val)
			require.NoError(t, err)
			require.Equal(t, `"`+hexValue+`"`, string(b))

			decoded := tc.ptr()
			require.NoError(t, json.Unmarshal(b, decoded))
			again, err := json.Marshal(decoded)
			require.NoError(t, err)
			require.Equal(t, b, again)

			for _, bad := range []string{`"short"`, `"` + hexValue + `00"`, `"zz` + hexValue[2:] + `"`, `12`} {
				require.Error(t, json.Unmarshal([]byte(bad), tc.ptr()), bad)
			}
		})
	}
}

func TestPubKeyFromHexChecksCurve(t *testing.T) {
	_, pk := makeKeyPair(t)
	parsed, err := PubKeyFromHex(pk.Hex())
	require.NoError(t, err)
	require.Equal(t, pk, parsed)

	// right length, valid hex, but bigger than the field size
	_, err = PubKeyFromHex("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	require.Error(t, err)

	_, err = IDFromHex("1234")
	require.Error(t, err)
}

func TestEventIntegrity(t *testing.T) {
	sk, pk := makeKeyPair(t)
	evt := makeEvent(t, sk, KindTextNote, 1700000000, "integrity")

	require.Equal(t, pk, evt.PubKey)
	require.True(t, evt.CheckID())
	require.True(t, evt.VerifySignature())
	require.NoError(t, evt.Verify())

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(evt.String()), &decoded))
	require.Equal(t, evt.ID, decoded.ID)
	require.NoError(t, decoded.Verify())

	tampered := evt
	tampered.Content = "something else"
	require.False(t, tampered.CheckID())
	require.Error(t, tampered.Verify())

	tampered = evt
	tampered.ID = tampered.GetID()
	tampered.Sig[0] ^= 0xff
	require.False(t, tampered.VerifySignature())
}

func TestKindClasses(t *testing.T) {
	for _, tc := range []struct {
		kind        Kind
		replaceable bool
		ephemeral   bool
		addressable bool
	}{
		{KindProfileMetadata, true, false, false},
		{KindTextNote, false, false, false},
		{KindRelayListMetadata, true, false, false},
		{KindClientAuthentication, false, true, false},
		{KindArticle, false, false, true},
	} {
		require.Equal(t, tc.replaceable, tc.kind.IsReplaceable(), tc.kind.String())
		require.Equal(t, tc.ephemeral, tc.kind.IsEphemeral(), tc.kind.String())
		require.Equal(t, tc.addressable, tc.kind.IsAddressable(), tc.kind.String())
	}
}

func TestTags(t *testing.T) {
	tags := Tags{{"d", "slug"}, {"p", "a"}, {"p"}, {"p", "b"}, {"e", "c"}}

	require.Equal(t, "slug", tags.GetD())
	require.Equal(t, "", Tags{{"d"}}.GetD())

	var ps []string
	for tag := range tags.FindAll("p") {
		ps = append(ps, tag[1])
	}
	require.Equal(t, []string{"a", "b"}, ps)

	require.True(t, tags.ContainsAny("p", []string{"x", "b"}))
	require.False(t, tags.ContainsAny("e", []string{"a"}))
}
