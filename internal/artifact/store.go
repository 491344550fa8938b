// Package artifact implements content-addressed persistence for raw
// fetched payloads. Artifacts are immutable files named by content hash
// with an append-only JSONL metadata ledger alongside, so a session can
// be resumed without re-fetching anything already stored.
package artifact

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const ledgerFile = "artifacts.jsonl"

// Meta describes one stored artifact.
type Meta struct {
	ArtifactID  string `json:"artifact_id"`
	ContentHash string `json:"content_hash"`
	SourceURL   string `json:"source_url,omitempty"`
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	Tool        string `json:"tool"`
	SizeBytes   int64  `json:"size_bytes"`
	PublishDate string `json:"publish_date,omitempty"`
	StoredPath  string `json:"stored_path"`
	CreatedAt   string `json:"created_at"`
}

// WriteOptions carries metadata for a new artifact.
type WriteOptions struct {
	SourceURL   string
	ContentType string
	Title       string
	Tool        string
	PublishDate string
}

// Store persists artifacts under dir/ with a JSONL metadata ledger.
// Writes are keyed by content hash: concurrent duplicate writes collapse
// to the existing artifact id.
type Store struct {
	dir        string
	ledgerPath string

	mu         sync.Mutex
	byID       map[string]Meta
	byHash     map[string]string // content hash -> artifact id
	totalBytes int64
}

// Open creates or reopens a store rooted at dir, replaying the metadata
// ledger into memory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	s := &Store{
		dir:        dir,
		ledgerPath: filepath.Join(dir, ledgerFile),
		byID:       make(map[string]Meta),
		byHash:     make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.ledgerPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open artifact ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(line, &meta); err != nil {
			// A torn trailing line from a crash is skipped, not fatal.
			continue
		}
		s.byID[meta.ArtifactID] = meta
		s.byHash[meta.ContentHash] = meta.ArtifactID
		s.totalBytes += meta.SizeBytes
	}
	return scanner.Err()
}

// secretPatterns redact obvious credentials before content is hashed and
// persisted, so identical post-redaction payloads deduplicate.
var secretPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)["\s:=]+["']?[a-zA-Z0-9_\-]{20,}["']?`), `$1="[REDACTED]"`},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)["\s:=]+["']?[^\s"']{8,}["']?`), `$1="[REDACTED]"`},
	{regexp.MustCompile(`(?i)(secret|token)["\s:=]+["']?[a-zA-Z0-9_\-]{20,}["']?`), `$1="[REDACTED]"`},
	{regexp.MustCompile(`(?i)sk-[a-zA-Z0-9]{20,}`), `[REDACTED_API_KEY]`},
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), `[REDACTED_GITHUB_TOKEN]`},
}

func redact(content []byte) []byte {
	for _, p := range secretPatterns {
		content = p.re.ReplaceAll(content, []byte(p.replacement))
	}
	return content
}

// Write persists content and returns its metadata. The artifact id is
// derived from the content hash, so two sources yielding identical
// normalized content resolve to one artifact.
func (s *Store) Write(content []byte, opts WriteOptions) (Meta, error) {
	content = redact(content)

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	id := "art_" + hash[:16]

	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.byHash[hash]; ok {
		return s.byID[existingID], nil
	}

	path := filepath.Join(s.dir, id+extFor(opts.ContentType))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write artifact %s: %w", id, err)
	}

	meta := Meta{
		ArtifactID:  id,
		ContentHash: hash,
		SourceURL:   opts.SourceURL,
		ContentType: opts.ContentType,
		Title:       opts.Title,
		Tool:        opts.Tool,
		SizeBytes:   int64(len(content)),
		PublishDate: opts.PublishDate,
		StoredPath:  path,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.appendMeta(meta); err != nil {
		return Meta{}, err
	}
	s.byID[id] = meta
	s.byHash[hash] = id
	s.totalBytes += meta.SizeBytes
	return meta, nil
}

// appendMeta makes the artifact durable before it is acknowledged.
func (s *Store) appendMeta(meta Meta) error {
	f, err := os.OpenFile(s.ledgerPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open artifact ledger: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal artifact meta: %w", err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append artifact meta: %w", err)
	}
	return f.Sync()
}

// Read returns the raw content of an artifact.
func (s *Store) Read(id string) ([]byte, error) {
	s.mu.Lock()
	meta, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s: not found", id)
	}
	return os.ReadFile(meta.StoredPath)
}

// Get returns the metadata for an artifact id.
func (s *Store) Get(id string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.byID[id]
	return meta, ok
}

// Count returns the number of stored artifacts.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// TotalBytes returns the total persisted payload size.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

func extFor(contentType string) string {
	switch contentType {
	case "text/html":
		return ".html"
	case "application/json":
		return ".json"
	case "text/markdown":
		return ".md"
	default:
		return ".txt"
	}
}
