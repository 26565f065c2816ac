package store

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"
)

// ExpiryEntry keys the time-ordered index. Expiries are tracked at second
// granularity; ties order by fingerprint bytes so traversal is
// deterministic across nodes.
type ExpiryEntry struct {
	Expiry      time.Time
	Fingerprint common.Hash
}

func entryLess(a, b ExpiryEntry) bool {
	if !a.Expiry.Equal(b.Expiry) {
		return a.Expiry.Before(b.Expiry)
	}
	return bytes.Compare(a.Fingerprint[:], b.Fingerprint[:]) < 0
}

// ExpiryIndex is a B-tree over (expiry, fingerprint) pairs. It is not safe
// for concurrent use; the owning store serializes access.
type ExpiryIndex struct {
	tr *btree.BTreeG[ExpiryEntry]
}

func NewExpiryIndex() *ExpiryIndex {
	return &ExpiryIndex{tr: btree.NewBTreeGOptions(entryLess, btree.Options{NoLocks: true})}
}

func (x *ExpiryIndex) Add(expiry time.Time, fp common.Hash) {
	x.tr.Set(ExpiryEntry{Expiry: expiry.Truncate(time.Second), Fingerprint: fp})
}

func (x *ExpiryIndex) Remove(expiry time.Time, fp common.Hash) {
	x.tr.Delete(ExpiryEntry{Expiry: expiry.Truncate(time.Second), Fingerprint: fp})
}

// NextExpiring peeks the earliest entry.
func (x *ExpiryIndex) NextExpiring() (ExpiryEntry, bool) {
	return x.tr.Min()
}

// AdvancePast removes and returns every entry with expiry <= t, earliest
// first.
func (x *ExpiryIndex) AdvancePast(t time.Time) []ExpiryEntry {
	t = t.Truncate(time.Second)
	var out []ExpiryEntry
	for {
		min, ok := x.tr.Min()
		if !ok || min.Expiry.After(t) {
			return out
		}
		x.tr.Delete(min)
		out = append(out, min)
	}
}

func (x *ExpiryIndex) Len() int { return x.tr.Len() }
