package store

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// InsertOutcome reports what TryInsert did.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyPresent
	EvictedAndInserted
	RejectedAtCapacity
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	case EvictedAndInserted:
		return "evicted_and_inserted"
	case RejectedAtCapacity:
		return "rejected_at_capacity"
	default:
		return "unknown"
	}
}

// InsertResult carries the outcome plus the record displaced by a
// capacity eviction, when there is one.
type InsertResult struct {
	Outcome InsertOutcome
	Evicted *OrderRecord
}

// OrderRecord is the stored view of an admitted order. Values returned by
// the store are copies; mutating them does not touch stored state.
type OrderRecord struct {
	Fingerprint common.Hash
	Order       *zeroex.SignedOrder
	Expiry      time.Time
	FirstSeen   time.Time
	Source      string // peer id the order first arrived from; "local" for API submissions
}

type entry struct {
	rec     OrderRecord
	sources []string
}

const (
	DefaultCapacity = 16384
	// maxSources bounds the per-order ring of relaying peers.
	maxSources = 8
)

// Store is the bounded in-memory order set plus its expiry index. Both are
// mutated under one lock so lookups never observe one without the other.
type Store struct {
	mu  sync.Mutex
	cap int
	m   map[common.Hash]*entry
	exp *ExpiryIndex
	clk clock.Clock
}

func New(capacity int, clk clock.Clock) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		cap: capacity,
		m:   map[common.Hash]*entry{},
		exp: NewExpiryIndex(),
		clk: clk,
	}
}

// TryInsert admits the record if the fingerprint is new and capacity
// allows. At capacity the earliest-expiring record is displaced, but only
// when the newcomer's (expiry, fingerprint) key orders strictly after the
// current minimum; otherwise the store is left untouched.
func (s *Store) TryInsert(rec OrderRecord) InsertResult {
	rec.Expiry = rec.Expiry.Truncate(time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.FirstSeen.IsZero() {
		rec.FirstSeen = s.clk.Now()
	}
	if _, ok := s.m[rec.Fingerprint]; ok {
		metrics.Inc("store_insert_total", map[string]string{"result": "dup"})
		return InsertResult{Outcome: AlreadyPresent}
	}
	var evicted *OrderRecord
	if len(s.m) >= s.cap {
		min, ok := s.exp.NextExpiring()
		newKey := ExpiryEntry{Expiry: rec.Expiry, Fingerprint: rec.Fingerprint}
		if !ok || !entryLess(min, newKey) {
			metrics.Inc("store_insert_total", map[string]string{"result": "full"})
			return InsertResult{Outcome: RejectedAtCapacity}
		}
		old := s.m[min.Fingerprint]
		delete(s.m, min.Fingerprint)
		s.exp.Remove(min.Expiry, min.Fingerprint)
		cp := old.rec
		evicted = &cp
		metrics.Inc("store_evictions_total", map[string]string{"reason": "capacity"})
	}
	s.m[rec.Fingerprint] = &entry{rec: rec}
	s.exp.Add(rec.Expiry, rec.Fingerprint)
	metrics.Inc("store_insert_total", map[string]string{"result": "ok"})
	metrics.SetGauge("store_orders", nil, float64(len(s.m)))
	if evicted != nil {
		return InsertResult{Outcome: EvictedAndInserted, Evicted: evicted}
	}
	return InsertResult{Outcome: Inserted}
}

func (s *Store) Contains(fp common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[fp]
	return ok
}

func (s *Store) Get(fp common.Hash) (OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[fp]
	if !ok {
		return OrderRecord{}, false
	}
	return e.rec, true
}

// Remove deletes the record, returning it for event emission.
func (s *Store) Remove(fp common.Hash) (OrderRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[fp]
	if !ok {
		return OrderRecord{}, false
	}
	delete(s.m, fp)
	s.exp.Remove(e.rec.Expiry, fp)
	metrics.SetGauge("store_orders", nil, float64(len(s.m)))
	return e.rec, true
}

// RemoveExpiredBefore drops every record with expiry <= t and returns them
// earliest first.
func (s *Store) RemoveExpiredBefore(t time.Time) []OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	ents := s.exp.AdvancePast(t)
	if len(ents) == 0 {
		return nil
	}
	out := make([]OrderRecord, 0, len(ents))
	for _, en := range ents {
		e, ok := s.m[en.Fingerprint]
		if !ok {
			continue
		}
		delete(s.m, en.Fingerprint)
		out = append(out, e.rec)
		metrics.Inc("store_evictions_total", map[string]string{"reason": "expired"})
	}
	metrics.SetGauge("store_orders", nil, float64(len(s.m)))
	return out
}

// NextExpiry peeks the earliest expiry for sweep scheduling.
func (s *Store) NextExpiry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	min, ok := s.exp.NextExpiring()
	if !ok {
		return time.Time{}, false
	}
	return min.Expiry, true
}

// Snapshot returns a point-in-time copy of all records ordered by
// (expiry, fingerprint) ascending, so equal stores list equally.
func (s *Store) Snapshot() []OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderRecord, 0, len(s.m))
	s.exp.tr.Scan(func(en ExpiryEntry) bool {
		if e, ok := s.m[en.Fingerprint]; ok {
			out = append(out, e.rec)
		}
		return true
	})
	return out
}

// SnapshotAfter returns up to max records whose fingerprint bytes order
// strictly after the cursor, ascending by fingerprint. This is the paging
// primitive for the order-sync protocol.
func (s *Store) SnapshotAfter(cursor common.Hash, max int) []OrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	fps := make([]common.Hash, 0, len(s.m))
	for fp := range s.m {
		if cmpHash(fp, cursor) > 0 {
			fps = append(fps, fp)
		}
	}
	sortHashes(fps)
	if max > 0 && len(fps) > max {
		fps = fps[:max]
	}
	out := make([]OrderRecord, 0, len(fps))
	for _, fp := range fps {
		out = append(out, s.m[fp].rec)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// MarkSeenFrom records peer in the order's bounded ring of recent relayers.
func (s *Store) MarkSeenFrom(fp common.Hash, peer string) {
	if peer == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[fp]
	if !ok {
		return
	}
	for _, p := range e.sources {
		if p == peer {
			return
		}
	}
	e.sources = append(e.sources, peer)
	if len(e.sources) > maxSources {
		e.sources = append(e.sources[:0], e.sources[len(e.sources)-maxSources:]...)
	}
}

// RecentSources returns a copy of the order's relayer ring.
func (s *Store) RecentSources(fp common.Hash) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[fp]
	if !ok || len(e.sources) == 0 {
		return nil
	}
	out := make([]string, len(e.sources))
	copy(out, e.sources)
	return out
}

func cmpHash(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) }

func sortHashes(hs []common.Hash) {
	sort.Slice(hs, func(i, j int) bool { return cmpHash(hs[i], hs[j]) < 0 })
}
