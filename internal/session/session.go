// Package session implements the durable, resumable container for one
// research run: the source queue and counters in SQLite, the evidence
// ledger as append-only JSONL, and the content-addressed artifact
// directory. Every write is persisted before it is considered durable,
// so a crash after a fetch never loses the artifact-to-evidence link.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yangwenmai/scout/internal/artifact"
	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/ledger"
	"github.com/yangwenmai/scout/internal/model"
)

// Counter names tracked per session.
const (
	CounterSteps        = "steps"
	CounterTokens       = "tokens"
	CounterBrowserSteps = "browser_steps"
)

const dbFile = "scout.db"

// Session is one durable research run rooted at a workspace directory.
type Session struct {
	ID  string
	Dir string

	Queue     *Queue
	Ledger    *ledger.Ledger
	Artifacts *artifact.Store

	// In-memory mirrors of the persisted counters, for cheap reads.
	// The database row written by AddCounter is the source of truth.
	steps        atomic.Int64
	tokens       atomic.Int64
	browserSteps atomic.Int64
}

// Create initialises a fresh session workspace under the configured base
// directory. Workspace creation is explicit; nothing is lazily created on
// first access.
func Create(ctx context.Context, cfg config.Config) (*Session, error) {
	id := "rs_" + uuid.New().String()[:12]
	dir := filepath.Join(cfg.WorkspaceBaseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	s, err := open(ctx, id, dir)
	if err != nil {
		return nil, err
	}
	slog.Info("created research session", "session_id", id, "workspace", dir)
	return s, nil
}

// Resume reconstructs a session from a persisted workspace. In-flight
// sources from an interrupted run return to QUEUED with an incremented
// retry count; completed fetches are never repeated.
func Resume(ctx context.Context, dir string) (*Session, error) {
	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, dir)
	}
	s, err := open(ctx, filepath.Base(dir), dir)
	if err != nil {
		return nil, err
	}
	reset, err := s.Queue.ResetInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset in-flight sources: %w", err)
	}
	if reset > 0 {
		slog.Info("requeued in-flight sources after resume", "session_id", s.ID, "count", reset)
	}
	return s, nil
}

func open(ctx context.Context, id, dir string) (*Session, error) {
	db, err := openSQLite(filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	queue, err := newQueue(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue: %w", err)
	}
	led, err := ledger.Open(dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	store, err := artifact.Open(filepath.Join(dir, "artifacts"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	s := &Session{ID: id, Dir: dir, Queue: queue, Ledger: led, Artifacts: store}
	for name, mirror := range map[string]*atomic.Int64{
		CounterSteps:        &s.steps,
		CounterTokens:       &s.tokens,
		CounterBrowserSteps: &s.browserSteps,
	} {
		v, err := queue.Counter(ctx, name)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load counter %s: %w", name, err)
		}
		mirror.Store(v)
	}
	return s, nil
}

// SetBrief stores the brief; it is immutable once set.
func (s *Session) SetBrief(ctx context.Context, brief model.ResearchBrief) error {
	if err := brief.Validate(); err != nil {
		return err
	}
	return s.Queue.SetBrief(ctx, brief)
}

// Brief returns the stored brief, or nil if not yet set.
func (s *Session) Brief(ctx context.Context) (*model.ResearchBrief, error) {
	return s.Queue.Brief(ctx)
}

// AddSteps increments the step counter durably and returns the new value.
func (s *Session) AddSteps(ctx context.Context, n int64) (int64, error) {
	v, err := s.Queue.AddCounter(ctx, CounterSteps, n)
	if err != nil {
		return 0, err
	}
	s.steps.Store(v)
	return v, nil
}

// AddTokens increments the token counter durably and returns the new value.
func (s *Session) AddTokens(ctx context.Context, n int64) (int64, error) {
	v, err := s.Queue.AddCounter(ctx, CounterTokens, n)
	if err != nil {
		return 0, err
	}
	s.tokens.Store(v)
	return v, nil
}

// AddBrowserSteps increments the browser action counter durably and
// returns the new value.
func (s *Session) AddBrowserSteps(ctx context.Context, n int64) (int64, error) {
	v, err := s.Queue.AddCounter(ctx, CounterBrowserSteps, n)
	if err != nil {
		return 0, err
	}
	s.browserSteps.Store(v)
	return v, nil
}

// Steps returns the current step count.
func (s *Session) Steps() int64 { return s.steps.Load() }

// Tokens returns the current token count.
func (s *Session) Tokens() int64 { return s.tokens.Load() }

// BrowserSteps returns the current browser action count.
func (s *Session) BrowserSteps() int64 { return s.browserSteps.Load() }

// Metrics is a point-in-time snapshot of session progress.
type Metrics struct {
	SessionID       string         `json:"session_id"`
	Steps           int64          `json:"steps"`
	Tokens          int64          `json:"tokens"`
	BrowserSteps    int64          `json:"browser_steps"`
	SourcesByStatus map[string]int `json:"sources_by_status"`
	EvidenceCount   int            `json:"evidence_count"`
	UniqueDomains   int            `json:"unique_domains"`
	ArtifactCount   int            `json:"artifact_count"`
	ArtifactBytes   int64          `json:"artifact_bytes"`
}

// Snapshot gathers current session metrics.
func (s *Session) Snapshot(ctx context.Context) (Metrics, error) {
	counts, err := s.Queue.CountByStatus(ctx)
	if err != nil {
		return Metrics{}, err
	}
	return Metrics{
		SessionID:       s.ID,
		Steps:           s.Steps(),
		Tokens:          s.Tokens(),
		BrowserSteps:    s.BrowserSteps(),
		SourcesByStatus: counts,
		EvidenceCount:   s.Ledger.Count(),
		UniqueDomains:   len(s.Ledger.UniqueDomains()),
		ArtifactCount:   s.Artifacts.Count(),
		ArtifactBytes:   s.Artifacts.TotalBytes(),
	}, nil
}
