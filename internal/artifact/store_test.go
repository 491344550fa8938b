package artifact

import (
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Write([]byte("some fetched article text"), WriteOptions{
		SourceURL:   "https://example.com/a",
		ContentType: "text/plain",
		Tool:        "page_reader",
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(meta.ArtifactID, "art_") {
		t.Errorf("ArtifactID = %q, want art_ prefix", meta.ArtifactID)
	}

	content, err := s.Read(meta.ArtifactID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(content) != "some fetched article text" {
		t.Errorf("content = %q", content)
	}
}

func TestDedupByContentHash(t *testing.T) {
	s := newTestStore(t)

	// Two sources yielding identical content resolve to one artifact.
	m1, err := s.Write([]byte("identical content"), WriteOptions{SourceURL: "https://a.com/x"})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := s.Write([]byte("identical content"), WriteOptions{SourceURL: "https://b.com/y"})
	if err != nil {
		t.Fatal(err)
	}
	if m1.ArtifactID != m2.ArtifactID {
		t.Errorf("artifact ids differ: %s vs %s", m1.ArtifactID, m2.ArtifactID)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestConcurrentDuplicateWritesCollapse(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	ids := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta, err := s.Write([]byte("racing content"), WriteOptions{SourceURL: "https://example.com"})
			if err != nil {
				t.Errorf("Write: %v", err)
				return
			}
			ids[i] = meta.ArtifactID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent writes produced different ids: %v", ids)
		}
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestReopenReplaysLedger(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := s.Write([]byte("durable content"), WriteOptions{SourceURL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("Count after reopen = %d, want 1", reopened.Count())
	}
	got, ok := reopened.Get(meta.ArtifactID)
	if !ok {
		t.Fatal("artifact missing after reopen")
	}
	if got.ContentHash != meta.ContentHash {
		t.Errorf("ContentHash = %q, want %q", got.ContentHash, meta.ContentHash)
	}

	// Re-writing the same content after reopen still dedups.
	again, err := reopened.Write([]byte("durable content"), WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if again.ArtifactID != meta.ArtifactID {
		t.Errorf("dedup lost across reopen: %s vs %s", again.ArtifactID, meta.ArtifactID)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.Write([]byte(`config: api_key="sk_live_abcdefghij1234567890" done`), WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	content, err := s.Read(meta.ArtifactID)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "sk_live_abcdefghij1234567890") {
		t.Error("api key survived redaction")
	}
	if !strings.Contains(string(content), "[REDACTED]") {
		t.Errorf("no redaction marker in %q", content)
	}
}
