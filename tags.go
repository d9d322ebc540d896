package nostr

import (
	"iter"
	"slices"
)

type Tag []string

type Tags []Tag

// GetD is the value of the first "d" tag, which identifies addressable events.
func (tags Tags) GetD() string {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == "d" {
			return v[1]
		}
	}
	return ""
}

// FindAll yields every tag named key that carries a value.
func (tags Tags) FindAll(key string) iter.Seq[Tag] {
	return func(yield func(Tag) bool) {
		for _, v := range tags {
			if len(v) >= 2 && v[0] == key && !yield(v) {
				return
			}
		}
	}
}

// ContainsAny is used by filters: true when some tag named tagName has one of values.
func (tags Tags) ContainsAny(tagName string, values []string) bool {
	return slices.ContainsFunc(tags, func(tag Tag) bool {
		return len(tag) >= 2 && tag[0] == tagName && slices.Contains(values, tag[1])
	})
}
