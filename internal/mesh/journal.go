package mesh

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zrxmesh/ordermesh/internal/p2p/wire"
	"github.com/zrxmesh/ordermesh/internal/store"
	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Journal is a minimal append-only log of admissions and removals. Each
// entry is one JSON line. On restart the node replays it to rebuild the
// order set without waiting for a network sync. All methods are nil-safe
// so a node without persistence skips journaling entirely.
type Journal struct {
	mu   sync.Mutex
	path string
}

const (
	JournalAdmitted = "admitted"
	JournalExpired  = "expired"
	JournalEvicted  = "evicted"
)

type JournalEntry struct {
	Op     string          `json:"op"` // admitted | expired | evicted
	Hash   string          `json:"hash"`
	At     int64           `json:"at"`
	Source string          `json:"source,omitempty"`
	Order  json.RawMessage `json:"order,omitempty"`
}

func NewJournal(path string) *Journal { return &Journal{path: path} }

// AppendAdmitted records an admission together with the full order so
// replay can reconstruct the set.
func (j *Journal) AppendAdmitted(rec store.OrderRecord) error {
	if j == nil {
		return nil
	}
	raw, err := json.Marshal(rec.Order)
	if err != nil {
		return err
	}
	return j.append(JournalEntry{
		Op:     JournalAdmitted,
		Hash:   rec.Fingerprint.Hex(),
		At:     rec.FirstSeen.Unix(),
		Source: rec.Source,
		Order:  raw,
	})
}

// AppendRemoved records an expiry or capacity eviction by fingerprint.
func (j *Journal) AppendRemoved(op string, fp common.Hash, at time.Time) error {
	if j == nil {
		return nil
	}
	return j.append(JournalEntry{Op: op, Hash: fp.Hex(), At: at.Unix()})
}

func (j *Journal) append(e JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	b, _ := json.Marshal(e)
	if _, err = f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	_ = f.Close()
	metrics.Inc("journal_appends_total", map[string]string{"op": e.Op})
	logger.DebugJ("journal", map[string]any{"op": e.Op, "hash": e.Hash})
	return nil
}

// Replay streams entries in append order. Unparseable lines are skipped
// and counted; a crash-truncated tail must not poison recovery.
func (j *Journal) Replay(fn func(JournalEntry)) error {
	if j == nil {
		return nil
	}
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), wire.MaxMessageSize+4096)
	entries, bad := 0, 0
	for s.Scan() {
		var e JournalEntry
		if json.Unmarshal(s.Bytes(), &e) != nil {
			bad++
			continue
		}
		fn(e)
		entries++
	}
	if err := s.Err(); err != nil {
		return err
	}
	metrics.Inc("journal_recover_total", map[string]string{"result": "ok"})
	logger.InfoJ("journal", map[string]any{"op": "recover", "result": "ok", "entries": entries, "bad": bad})
	return nil
}

// Compact rewrites the journal down to the given live records, dropping
// the removal history accumulated since the last restart.
func (j *Journal) Compact(recs []store.OrderRecord) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	tmp := j.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range recs {
		raw, err := json.Marshal(rec.Order)
		if err != nil {
			continue
		}
		b, _ := json.Marshal(JournalEntry{
			Op:     JournalAdmitted,
			Hash:   rec.Fingerprint.Hex(),
			At:     rec.FirstSeen.Unix(),
			Source: rec.Source,
			Order:  raw,
		})
		if _, err := w.Write(append(b, '\n')); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	_ = f.Close()
	if err := os.Rename(tmp, j.path); err != nil {
		return err
	}
	metrics.Inc("journal_compact_total", map[string]string{"result": "ok"})
	return nil
}
