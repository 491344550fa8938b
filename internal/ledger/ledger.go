// Package ledger implements the append-only evidence ledger: one durable
// JSONL record per fetched source, keyed by artifact id. The ledger is
// the source of truth for every citation in the final bundle.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yangwenmai/scout/internal/model"
)

const ledgerFile = "evidence.jsonl"

// Ledger stores evidence records append-only with an in-memory index.
// Appends from concurrent fetches are safe; records are never mutated.
type Ledger struct {
	path string

	mu      sync.Mutex
	records map[string]model.EvidenceRecord // by artifact id
	order   []string
}

// Open creates or reopens the ledger in dir, replaying existing records.
func Open(dir string) (*Ledger, error) {
	l := &Ledger{
		path:    filepath.Join(dir, ledgerFile),
		records: make(map[string]model.EvidenceRecord),
	}
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open evidence ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec model.EvidenceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if _, seen := l.records[rec.ArtifactID]; !seen {
			l.order = append(l.order, rec.ArtifactID)
		}
		l.records[rec.ArtifactID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read evidence ledger: %w", err)
	}
	return l, nil
}

// Append durably records evidence for an artifact. A second append for
// the same artifact id is a no-op, keeping the ledger append-only.
func (l *Ledger) Append(rec model.EvidenceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[rec.ArtifactID]; exists {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open evidence ledger: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal evidence record: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append evidence record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync evidence ledger: %w", err)
	}

	l.records[rec.ArtifactID] = rec
	l.order = append(l.order, rec.ArtifactID)
	return nil
}

// Get returns the record for an artifact id.
func (l *Ledger) Get(artifactID string) (model.EvidenceRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[artifactID]
	return rec, ok
}

// All returns all records in append order.
func (l *Ledger) All() []model.EvidenceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EvidenceRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}

// Count returns the number of records.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// UniqueDomains returns the set of domains with recorded evidence.
func (l *Ledger) UniqueDomains() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	domains := make(map[string]bool)
	for _, rec := range l.records {
		if rec.Domain != "" {
			domains[rec.Domain] = true
		}
	}
	return domains
}
