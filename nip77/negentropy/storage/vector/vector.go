package vector

import (
	"iter"
	"slices"

	"fiatjaf.com/nostrpool/nip77/negentropy"
)

// Vector is an in-memory negentropy.Storage. Items are inserted, then the vector is sealed.
type Vector struct {
	items  []negentropy.Item
	sealed bool

	acc negentropy.Accumulator
}

func New() *Vector {
	return &Vector{
		items: make([]negentropy.Item, 0, 30),
	}
}

func (v *Vector) Insert(timestamp uint64, id [32]byte) {
	if v.sealed {
		panic("can't insert into a sealed vector")
	}
	v.items = append(v.items, negentropy.Item{Timestamp: timestamp, ID: id})
}

func (v *Vector) Size() int { return len(v.items) }

// Seal sorts the items and removes duplicates. Calling it twice is a no-op.
func (v *Vector) Seal() {
	if v.sealed {
		return
	}
	v.sealed = true
	slices.SortFunc(v.items, negentropy.ItemCompare)
	v.items = slices.CompactFunc(v.items, func(a, b negentropy.Item) bool { return a.ID == b.ID })
}

func (v *Vector) Range(begin, end int) iter.Seq2[int, negentropy.Item] {
	return func(yield func(int, negentropy.Item) bool) {
		for i := begin; i < end; i++ {
			if !yield(i, v.items[i]) {
				break
			}
		}
	}
}

func (v *Vector) FindLowerBound(begin, end int, bound negentropy.Bound) int {
	// binary search for the first item that is not below the bound
	i, j := begin, end
	for i < j {
		h := int(uint(i+j) >> 1)
		if bound.Below(v.items[h]) {
			i = h + 1
		} else {
			j = h
		}
	}
	return i
}

func (v *Vector) Fingerprint(begin, end int) [negentropy.FingerprintSize]byte {
	v.acc.Reset()
	for _, item := range v.Range(begin, end) {
		v.acc.Add(item.ID)
	}
	return v.acc.Fingerprint(end - begin)
}
