package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/settings"
	"github.com/simplyai/simplychat/store"
	"github.com/simplyai/simplychat/vector"
)

// Without cloud API keys the embedding chain falls through to the local
// embedder, so the full pipeline runs offline.

func newTestService(t *testing.T) (*Service, int64) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	vs, err := vector.New(filepath.Join(dir, "vectors.db"))
	if err != nil {
		t.Fatalf("vector.New: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	set, err := settings.New(st, "test-secret")
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}

	cfg := simplychat.DefaultConfig()
	cfg.UploadDir = filepath.Join(dir, "uploads")

	userID, err := st.CreateUser(context.Background(), store.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	return New(st, vs, set, cfg), userID
}

func docText() []byte {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("The solar system has eight planets orbiting the sun. ")
		b.WriteString("Jupiter is the largest planet and Mercury is the smallest. ")
	}
	return []byte(strings.TrimSpace(b.String()))
}

func TestUploadAndProcess(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	doc, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.Status != store.DocStatusReady {
		t.Fatalf("status = %q (error: %q), want ready", doc.Status, doc.ErrorMessage)
	}
	if doc.ChunkCount == 0 || doc.TotalTokens == 0 {
		t.Errorf("counts not recorded: %+v", doc)
	}
	if doc.EmbeddingModel != "feature-hash-384" {
		t.Errorf("embedding model = %q, want local fallback", doc.EmbeddingModel)
	}
	if doc.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Errorf("stored file missing: %v", err)
	}

	chunks, err := s.Chunks(ctx, userID, doc.ID)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(chunks) != doc.ChunkCount {
		t.Errorf("chunk rows = %d, want %d", len(chunks), doc.ChunkCount)
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.ChromaID == "" {
			t.Errorf("chunk %d missing vector handle", i)
		}
	}

	if !s.HasReadyDocuments(ctx, userID) {
		t.Error("HasReadyDocuments = false")
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	s, userID := newTestService(t)

	_, err := s.Upload(context.Background(), userID, "virus.exe", "application/octet-stream", []byte("x"))
	if !errors.Is(err, simplychat.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestUploadQuota(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	if err := s.settings.Set(ctx, "rag_max_documents_per_user", 1, settings.TypeInteger, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Upload(ctx, userID, "one.txt", "text/plain", docText()); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := s.Upload(ctx, userID, "two.txt", "text/plain", docText())
	if !errors.Is(err, simplychat.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestRetrieveAndSearch(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	doc, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != store.DocStatusReady {
		t.Fatalf("status = %q", doc.Status)
	}

	results, err := s.Search(ctx, userID, "Jupiter is the largest planet", 3, 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].DocumentName != "planets.txt" {
		t.Errorf("DocumentName = %q", results[0].DocumentName)
	}
	if results[0].Similarity <= 0 {
		t.Errorf("Similarity = %f", results[0].Similarity)
	}

	scoped, err := s.Search(ctx, userID, "planets", 3, 0, []int64{doc.ID})
	if err != nil {
		t.Fatalf("scoped Search: %v", err)
	}
	for _, r := range scoped {
		if r.DocumentID != doc.ID {
			t.Errorf("scoped search leaked document %d", r.DocumentID)
		}
	}
}

func TestSearchMinScore(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText()); err != nil {
		t.Fatal(err)
	}

	all, err := s.Search(ctx, userID, "Jupiter is the largest planet", 5, 0, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no results without threshold")
	}

	// A threshold above every similarity filters everything out.
	none, err := s.Search(ctx, userID, "Jupiter is the largest planet", 5, 1.0, nil)
	if err != nil {
		t.Fatalf("Search with threshold: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d results above similarity 1.0", len(none))
	}

	// A threshold between the best and worst hit keeps only the top.
	if len(all) > 1 && all[0].Similarity > all[len(all)-1].Similarity {
		cut := (all[0].Similarity + all[len(all)-1].Similarity) / 2
		some, err := s.Search(ctx, userID, "Jupiter is the largest planet", 5, cut, nil)
		if err != nil {
			t.Fatalf("Search with mid threshold: %v", err)
		}
		if len(some) == 0 || len(some) >= len(all) {
			t.Errorf("mid threshold kept %d of %d results", len(some), len(all))
		}
		for _, r := range some {
			if r.Similarity < cut {
				t.Errorf("result below threshold: %f < %f", r.Similarity, cut)
			}
		}
	}
}

func TestSearchMultiDocumentScope(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	d1, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatal(err)
	}
	d2, err := s.Upload(ctx, userID, "moons.txt", "text/plain",
		[]byte("Titan orbits Saturn. Europa orbits Jupiter. Ganymede is the largest moon in the solar system. Io is volcanically active."))
	if err != nil {
		t.Fatal(err)
	}
	d3, err := s.Upload(ctx, userID, "stars.txt", "text/plain",
		[]byte("The Sun is a main sequence star. Proxima Centauri is the nearest star to the Sun. Betelgeuse is a red supergiant."))
	if err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, userID, "the solar system", 10, 0, []int64{d1.ID, d2.ID})
	if err != nil {
		t.Fatalf("scoped Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results in two-document scope")
	}
	for _, r := range results {
		if r.DocumentID == d3.ID {
			t.Errorf("scope leaked document %d", d3.ID)
		}
		if r.DocumentID != d1.ID && r.DocumentID != d2.ID {
			t.Errorf("unexpected document %d", r.DocumentID)
		}
	}
}

func TestRetrieveNoDocuments(t *testing.T) {
	s, userID := newTestService(t)

	results, err := s.Retrieve(context.Background(), userID, "anything")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if results != nil {
		t.Errorf("got %d results for empty library", len(results))
	}
}

func TestFormatContext(t *testing.T) {
	results := []Retrieved{
		{
			Result:       vector.Result{ChunkRecord: vector.ChunkRecord{Content: "chunk one", PageNumber: 3}},
			DocumentName: "report.pdf",
		},
		{
			Result:       vector.Result{ChunkRecord: vector.ChunkRecord{Content: "chunk two"}},
			DocumentName: "notes.txt",
		},
	}

	got := FormatContext(results)
	if !strings.HasPrefix(got, "=== DOCUMENT CONTEXT ===\n") {
		t.Errorf("missing header: %q", got)
	}
	if !strings.HasSuffix(got, "=== END DOCUMENT CONTEXT ===") {
		t.Errorf("missing footer: %q", got)
	}
	if !strings.Contains(got, "[Source 1: report.pdf, Page 3]\nchunk one") {
		t.Errorf("source 1 wrong: %q", got)
	}
	if !strings.Contains(got, "[Source 2: notes.txt]\nchunk two") {
		t.Errorf("source 2 wrong: %q", got)
	}

	if FormatContext(nil) != "" {
		t.Error("empty results should format to empty string")
	}
}

func TestDelete(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	doc, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, userID, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, userID, doc.ID); !errors.Is(err, simplychat.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(doc.FilePath); !os.IsNotExist(err) {
		t.Errorf("file still exists after delete")
	}

	st, err := s.StatsForUser(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalDocuments != 0 || st.TotalChunks != 0 {
		t.Errorf("stats after delete: %+v", st)
	}
}

func TestDeleteOtherUsersDocument(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	otherID, err := s.store.CreateUser(ctx, store.User{
		Username: "bob", Email: "bob@example.com", PasswordHash: "x",
	})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, otherID, doc.ID); !errors.Is(err, simplychat.ErrForbidden) {
		t.Errorf("Delete by other user = %v, want ErrForbidden", err)
	}
}

func TestReprocess(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	doc, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText())
	if err != nil {
		t.Fatal(err)
	}
	firstChunks := doc.ChunkCount

	// Smaller chunks should produce more of them
	if err := s.settings.Set(ctx, "rag_default_chunk_size", 64, settings.TypeInteger, ""); err != nil {
		t.Fatal(err)
	}

	doc, err = s.Reprocess(ctx, userID, doc.ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if doc.Status != store.DocStatusReady {
		t.Fatalf("status = %q (error: %q)", doc.Status, doc.ErrorMessage)
	}
	if doc.ChunkCount <= firstChunks {
		t.Errorf("chunk count = %d, want more than %d", doc.ChunkCount, firstChunks)
	}

	_, count, err := s.vectors.Stats(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if count != doc.ChunkCount {
		t.Errorf("vector count = %d, want %d (no stale vectors)", count, doc.ChunkCount)
	}
}

func TestStatsForUser(t *testing.T) {
	s, userID := newTestService(t)
	ctx := context.Background()

	st, err := s.StatsForUser(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalDocuments != 0 || st.CollectionExists {
		t.Errorf("empty stats = %+v", st)
	}

	if _, err := s.Upload(ctx, userID, "planets.txt", "text/plain", docText()); err != nil {
		t.Fatal(err)
	}

	st, err = s.StatsForUser(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalDocuments != 1 || st.ReadyDocuments != 1 || !st.CollectionExists || st.TotalChunks == 0 {
		t.Errorf("stats = %+v", st)
	}
}
