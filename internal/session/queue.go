package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/scout/internal/model"
)

// Enqueue outcomes for AddSourceCapped.
const (
	EnqueueAdded    = "added"
	EnqueueDropped  = "dropped"
	EnqueueReplaced = "replaced"
)

// Queue is the durable source queue and session bookkeeping store.
type Queue struct {
	db *sql.DB
}

// newQueue initialises the schema on an open database.
func newQueue(db *sql.DB) (*Queue, error) {
	q := &Queue{db: db}
	if err := q.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

const currentSchemaVersion = 1

func (q *Queue) migrate() error {
	if _, err := q.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := q.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := q.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []func() error{
		q.migrateV1, // v0 -> v1: initial schema
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d->v%d: %w", i, i+1, err)
		}
		if _, err := q.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

func (q *Queue) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id            TEXT PRIMARY KEY,
		url           TEXT NOT NULL,
		title         TEXT,
		snippet       TEXT,
		rank_score    REAL NOT NULL DEFAULT 0,
		reason_codes  TEXT,
		mode          TEXT NOT NULL,
		status        TEXT NOT NULL,
		artifact_id   TEXT,
		error_message TEXT,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		domain        TEXT,
		publish_date  TEXT,
		queued_at     TEXT NOT NULL,
		processed_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status, rank_score DESC);
	CREATE INDEX IF NOT EXISTS idx_sources_url ON sources(url);

	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS brief (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS findings (
		id         TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		pass       INTEGER NOT NULL,
		superseded INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS distilled (
		artifact_id TEXT PRIMARY KEY
	);
	`
	_, err := q.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

const sourceColumns = `id, url, title, snippet, rank_score, reason_codes, mode, status, artifact_id, error_message, retry_count, domain, publish_date, queued_at, processed_at`

// AddSource inserts a queue item unconditionally.
func (q *Queue) AddSource(ctx context.Context, item model.SourceQueueItem) error {
	reasons, _ := json.Marshal(item.ReasonCodes)
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.URL, item.Title, item.Snippet, item.RankScore, string(reasons),
		item.Mode, item.Status, nullable(item.ArtifactID), nullable(item.ErrorMessage),
		item.RetryCount, nullable(item.Domain), nullable(item.PublishDate),
		item.QueuedAt, nullable(item.ProcessedAt),
	)
	return err
}

// AddSourceCapped enforces max_sources: below the cap the item is added;
// at the cap a candidate outranking the lowest-ranked QUEUED item
// replaces it, anything else is dropped.
func (q *Queue) AddSourceCapped(ctx context.Context, item model.SourceQueueItem, cap int) (string, error) {
	var total int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&total); err != nil {
		return "", err
	}
	if total < cap {
		if err := q.AddSource(ctx, item); err != nil {
			return "", err
		}
		return EnqueueAdded, nil
	}

	var lowestID string
	var lowestScore float64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, rank_score FROM sources WHERE status = ? ORDER BY rank_score ASC, queued_at DESC LIMIT 1`,
		model.StatusQueued,
	).Scan(&lowestID, &lowestScore)
	if errors.Is(err, sql.ErrNoRows) {
		return EnqueueDropped, nil
	}
	if err != nil {
		return "", err
	}
	if item.RankScore <= lowestScore {
		return EnqueueDropped, nil
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, lowestID); err != nil {
		return "", err
	}
	if err := q.AddSource(ctx, item); err != nil {
		return "", err
	}
	return EnqueueReplaced, nil
}

// UpdateSource persists the full mutable state of an item.
func (q *Queue) UpdateSource(ctx context.Context, item model.SourceQueueItem) error {
	reasons, _ := json.Marshal(item.ReasonCodes)
	_, err := q.db.ExecContext(ctx, `
		UPDATE sources SET title = ?, snippet = ?, rank_score = ?, reason_codes = ?, mode = ?,
			status = ?, artifact_id = ?, error_message = ?, retry_count = ?, domain = ?,
			publish_date = ?, processed_at = ?
		WHERE id = ?`,
		item.Title, item.Snippet, item.RankScore, string(reasons), item.Mode,
		item.Status, nullable(item.ArtifactID), nullable(item.ErrorMessage), item.RetryCount,
		nullable(item.Domain), nullable(item.PublishDate), nullable(item.ProcessedAt),
		item.ID,
	)
	return err
}

// ClaimNextReader atomically picks the highest-ranked QUEUED source that
// is not browser-required and marks it READING. Returns nil when none is
// available.
func (q *Queue) ClaimNextReader(ctx context.Context) (*model.SourceQueueItem, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE sources SET status = ?
		WHERE id = (
			SELECT id FROM sources
			WHERE status = ? AND mode != ?
			ORDER BY rank_score DESC, queued_at ASC LIMIT 1
		)
		RETURNING `+sourceColumns,
		model.StatusReading, model.StatusQueued, model.ModeBrowserRequire,
	)
	item, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ClaimNextBrowser atomically picks the highest-ranked source awaiting
// browser mode (BROWSER_NEEDED, or QUEUED with browser_required mode)
// and marks it BROWSING. Returns nil when none is available.
func (q *Queue) ClaimNextBrowser(ctx context.Context) (*model.SourceQueueItem, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE sources SET status = ?
		WHERE id = (
			SELECT id FROM sources
			WHERE status = ? OR (status = ? AND mode = ?)
			ORDER BY rank_score DESC, queued_at ASC LIMIT 1
		)
		RETURNING `+sourceColumns,
		model.StatusBrowsing, model.StatusBrowserNeeded, model.StatusQueued, model.ModeBrowserRequire,
	)
	item, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ListSources returns sources with any of the given statuses, all when
// none are given, ordered by rank.
func (q *Queue) ListSources(ctx context.Context, statuses ...string) ([]model.SourceQueueItem, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY rank_score DESC, queued_at ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.SourceQueueItem
	for rows.Next() {
		item, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CountByStatus returns source counts keyed by status.
func (q *Queue) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sources GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// HasURL reports whether a source with the given URL is already queued
// in any status.
func (q *Queue) HasURL(ctx context.Context, url string) (bool, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE url = ?`, url).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetInFlight returns READING/BROWSING items to QUEUED with an
// incremented retry count. Called on resume so a crash mid-fetch never
// loses a source.
func (q *Queue) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, retry_count = retry_count + 1 WHERE status IN (?, ?)`,
		model.StatusQueued, model.StatusReading, model.StatusBrowsing,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

// AddCounter atomically increments a named counter and returns the new
// value. Deltas are never negative, keeping counters monotonic.
func (q *Queue) AddCounter(ctx context.Context, name string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, fmt.Errorf("counter %s: negative delta %d", name, delta)
	}
	var value int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = value + excluded.value
		RETURNING value`,
		name, delta,
	).Scan(&value)
	return value, err
}

// Counter returns the current value of a named counter.
func (q *Queue) Counter(ctx context.Context, name string) (int64, error) {
	var value int64
	err := q.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

// ---------------------------------------------------------------------------
// Brief
// ---------------------------------------------------------------------------

// SetBrief stores the brief once; the brief is immutable after that.
func (q *Queue) SetBrief(ctx context.Context, brief model.ResearchBrief) error {
	payload, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO brief (id, payload) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`,
		string(payload),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("brief already set for this session")
	}
	return nil
}

// Brief returns the stored brief, or nil if none is set.
func (q *Queue) Brief(ctx context.Context) (*model.ResearchBrief, error) {
	var payload string
	err := q.db.QueryRowContext(ctx, `SELECT payload FROM brief WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var brief model.ResearchBrief
	if err := json.Unmarshal([]byte(payload), &brief); err != nil {
		return nil, fmt.Errorf("unmarshal brief: %w", err)
	}
	return &brief, nil
}

// ---------------------------------------------------------------------------
// Findings
// ---------------------------------------------------------------------------

// AddFindings persists a batch of findings from one distillation pass.
func (q *Queue) AddFindings(ctx context.Context, findings []model.Finding) error {
	for _, f := range findings {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("marshal finding: %w", err)
		}
		if _, err := q.db.ExecContext(ctx,
			`INSERT INTO findings (id, payload, pass, superseded) VALUES (?, ?, ?, 0)`,
			f.ID, string(payload), f.Pass,
		); err != nil {
			return err
		}
	}
	return nil
}

// Findings returns all non-superseded findings ordered by pass then id.
func (q *Queue) Findings(ctx context.Context) ([]model.Finding, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT payload FROM findings WHERE superseded = 0 ORDER BY pass ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Finding
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var f model.Finding
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SupersedeByEvidence marks findings citing the given artifact as
// superseded. Used when a source is re-fetched and re-distilled.
func (q *Queue) SupersedeByEvidence(ctx context.Context, artifactID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE findings SET superseded = 1 WHERE superseded = 0 AND payload LIKE ?`,
		`%"`+artifactID+`"%`,
	)
	return err
}

// ---------------------------------------------------------------------------
// Distillation bookkeeping
// ---------------------------------------------------------------------------

// MarkDistilled records that an artifact was consumed by a distillation
// pass. Artifacts that failed distillation are not marked and are
// re-offered on the next pass.
func (q *Queue) MarkDistilled(ctx context.Context, artifactID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO distilled (artifact_id) VALUES (?) ON CONFLICT(artifact_id) DO NOTHING`,
		artifactID,
	)
	return err
}

// DistilledSet returns the artifact ids already consumed by distillation.
func (q *Queue) DistilledSet(ctx context.Context) (map[string]bool, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT artifact_id FROM distilled`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row scanner) (*model.SourceQueueItem, error) {
	var item model.SourceQueueItem
	var reasons, artifactID, errorMessage, domain, publishDate, processedAt, title, snippet sql.NullString
	err := row.Scan(&item.ID, &item.URL, &title, &snippet, &item.RankScore, &reasons,
		&item.Mode, &item.Status, &artifactID, &errorMessage, &item.RetryCount,
		&domain, &publishDate, &item.QueuedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	item.Title = title.String
	item.Snippet = snippet.String
	item.ArtifactID = artifactID.String
	item.ErrorMessage = errorMessage.String
	item.Domain = domain.String
	item.PublishDate = publishDate.String
	item.ProcessedAt = processedAt.String
	if reasons.Valid && reasons.String != "" {
		_ = json.Unmarshal([]byte(reasons.String), &item.ReasonCodes)
	}
	return &item, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
