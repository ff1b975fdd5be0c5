// Package rag ingests user documents into the vector store and retrieves
// relevant chunks for chat context.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	simplychat "github.com/simplyai/simplychat"
	"github.com/simplyai/simplychat/chunker"
	"github.com/simplyai/simplychat/embed"
	"github.com/simplyai/simplychat/extract"
	"github.com/simplyai/simplychat/settings"
	"github.com/simplyai/simplychat/store"
	"github.com/simplyai/simplychat/vector"
)

// Service owns the document pipeline: upload, extract, chunk, embed, store,
// retrieve.
type Service struct {
	store    *store.Store
	vectors  *vector.Store
	settings *settings.Service
	cfg      simplychat.Config
	log      *slog.Logger
}

// New creates the RAG service.
func New(st *store.Store, vs *vector.Store, set *settings.Service, cfg simplychat.Config) *Service {
	return &Service{
		store:    st,
		vectors:  vs,
		settings: set,
		cfg:      cfg,
		log:      slog.With("component", "rag"),
	}
}

// Upload validates and stores an uploaded document, then processes it
// synchronously. The returned document reflects the processing outcome.
func (s *Service) Upload(ctx context.Context, userID int64, filename, mimeType string, data []byte) (*store.Document, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !extract.Supported(ext) {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			simplychat.ErrUnsupportedFormat, ext, strings.Join(extract.SupportedFormats(), ", "))
	}

	quota := s.settings.RAGMaxDocumentsPerUser(ctx)
	count, err := s.store.CountDocuments(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if count >= quota {
		return nil, fmt.Errorf("%w: %d of %d documents used", simplychat.ErrQuotaExceeded, count, quota)
	}

	if err := os.MkdirAll(s.cfg.RAGDocumentsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating document directory: %w", err)
	}
	storedName := uuid.NewString() + "." + ext
	path := filepath.Join(s.cfg.RAGDocumentsDir(), storedName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}

	id, err := s.store.CreateDocument(ctx, store.Document{
		UserID:           userID,
		OriginalFilename: filename,
		StoredFilename:   storedName,
		FilePath:         path,
		MIMEType:         mimeType,
		FileSize:         int64(len(data)),
		FileType:         ext,
	})
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.Process(ctx, doc); err != nil {
		s.log.Warn("document processing failed", "document_id", id, "error", err)
	}
	return s.store.GetDocument(ctx, id)
}

// Process runs the ingestion pipeline for a document. Failures are recorded
// on the document and returned.
func (s *Service) Process(ctx context.Context, doc *store.Document) error {
	if err := s.store.MarkDocumentProcessing(ctx, doc.ID); err != nil {
		return err
	}

	chunkCount, totalTokens, model, err := s.ingest(ctx, doc)
	if err != nil {
		if markErr := s.store.MarkDocumentFailed(ctx, doc.ID, err.Error()); markErr != nil {
			s.log.Error("marking document failed", "document_id", doc.ID, "error", markErr)
		}
		return err
	}

	if err := s.store.MarkDocumentReady(ctx, doc.ID, chunkCount, totalTokens, model, time.Now().UTC()); err != nil {
		return err
	}
	s.log.Info("document ready",
		"document_id", doc.ID,
		"user_id", doc.UserID,
		"chunks", chunkCount,
		"tokens", totalTokens,
		"embedding_model", model,
	)
	return nil
}

func (s *Service) ingest(ctx context.Context, doc *store.Document) (int, int, string, error) {
	res, err := extract.Extract(ctx, doc.FilePath, doc.FileType)
	if err != nil {
		return 0, 0, "", err
	}

	ch := chunker.New(chunker.Config{
		ChunkSize: s.settings.RAGChunkSize(ctx),
		Overlap:   s.settings.RAGOverlap(ctx),
	})
	var chunks []chunker.Chunk
	if len(res.Pages) > 0 {
		chunks = ch.ChunkPages(res.Pages)
	} else {
		chunks = ch.ChunkText(res.Text)
	}
	if len(chunks) == 0 {
		return 0, 0, "", simplychat.ErrEmptyDocument
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, embedder, err := s.chain(ctx, doc.UserID).Embed(ctx, texts)
	if err != nil {
		return 0, 0, "", err
	}
	if len(vectors) != len(chunks) {
		return 0, 0, "", fmt.Errorf("%w: got %d vectors for %d chunks",
			simplychat.ErrEmbeddingFailed, len(vectors), len(chunks))
	}

	records := make([]vector.ChunkRecord, len(chunks))
	handles := make([]string, len(chunks))
	for i, c := range chunks {
		handles[i] = uuid.NewString()
		records[i] = vector.ChunkRecord{
			Handle:     handles[i],
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			PageNumber: c.PageNumber,
			TokenCount: c.TokenCount,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Content:    c.Content,
		}
	}
	if err := s.vectors.AddChunks(ctx, doc.UserID, records, vectors); err != nil {
		return 0, 0, "", err
	}

	rows := make([]store.DocumentChunk, len(chunks))
	totalTokens := 0
	for i, c := range chunks {
		rows[i] = store.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			TokenCount: c.TokenCount,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			PageNumber: c.PageNumber,
			ChromaID:   handles[i],
		}
		totalTokens += c.TokenCount
	}
	if err := s.store.InsertDocumentChunks(ctx, rows); err != nil {
		// Roll back the vectors so the two stores stay consistent.
		if delErr := s.vectors.DeleteByHandles(ctx, doc.UserID, handles); delErr != nil {
			s.log.Error("rolling back vectors", "document_id", doc.ID, "error", delErr)
		}
		return 0, 0, "", err
	}

	return len(chunks), totalTokens, embedder.Model(), nil
}

// chain builds the embedding fallback chain: the admin-preferred provider,
// then the other cloud provider, then the local embedder. When the tenant
// already has a collection, the embedder matching its dimension is tried
// first so later documents stay compatible.
func (s *Service) chain(ctx context.Context, userID int64) *embed.Chain {
	gemini := embed.NewGemini(s.settings.Secret(ctx, "gemini"))
	openai := embed.NewOpenAI(s.settings.Secret(ctx, "openai"))
	local := embed.NewLocal()

	var ordered []embed.Embedder
	if s.settings.RAGEmbeddingProvider(ctx) == "openai" {
		ordered = []embed.Embedder{openai, gemini, local}
	} else {
		ordered = []embed.Embedder{gemini, openai, local}
	}

	if dim, ok, err := s.vectors.CollectionDim(ctx, userID); err == nil && ok {
		for i, e := range ordered {
			if e.Dimension() == dim && i > 0 {
				ordered = append([]embed.Embedder{e}, append(ordered[:i:i], ordered[i+1:]...)...)
				break
			}
		}
	}
	return embed.NewChain(ordered...)
}

// Retrieved is one chunk returned to the chat pipeline.
type Retrieved struct {
	vector.Result
	DocumentName string
}

// Retrieve returns the chunks most relevant to query, using the admin
// configured top-k and similarity threshold. A user with no indexed
// documents gets an empty result.
func (s *Service) Retrieve(ctx context.Context, userID int64, query string) ([]Retrieved, error) {
	return s.search(ctx, userID, query, s.settings.RAGTopK(ctx), s.settings.RAGMinSimilarity(ctx), nil)
}

// Search returns chunks matching query for the document browser. Zero topK
// falls back to the configured default; minScore drops hits below that
// similarity; a non-empty documentIDs list scopes the search to those
// documents.
func (s *Service) Search(ctx context.Context, userID int64, query string, topK int, minScore float64, documentIDs []int64) ([]Retrieved, error) {
	if topK <= 0 {
		topK = s.settings.RAGTopK(ctx)
	}
	return s.search(ctx, userID, query, topK, minScore, documentIDs)
}

func (s *Service) search(ctx context.Context, userID int64, query string, k int, minSimilarity float64, documentIDs []int64) ([]Retrieved, error) {
	dim, ok, err := s.vectors.CollectionDim(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	vectors, embedder, err := s.chain(ctx, userID).Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if embedder.Dimension() != dim {
		return nil, fmt.Errorf("%w: query embedded with %s (dim %d), collection has dim %d",
			vector.ErrDimensionMismatch, embedder.Name(), embedder.Dimension(), dim)
	}

	// A single-document scope pushes the filter into the KNN query; a
	// multi-document scope over-fetches and filters here so the cut to k
	// does not starve the allowed set.
	var scopeID int64
	scope := make(map[int64]bool, len(documentIDs))
	for _, id := range documentIDs {
		scope[id] = true
	}
	fetch := k
	if len(documentIDs) == 1 {
		scopeID = documentIDs[0]
	} else if len(documentIDs) > 1 {
		fetch = k * len(documentIDs)
	}

	hits, err := s.vectors.Query(ctx, userID, vectors[0], fetch, scopeID)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	var results []Retrieved
	for _, h := range hits {
		if len(scope) > 1 && !scope[h.DocumentID] {
			continue
		}
		if h.Similarity < minSimilarity {
			continue
		}
		if len(results) == k {
			break
		}
		name, cached := names[h.DocumentID]
		if !cached {
			if doc, err := s.store.GetDocument(ctx, h.DocumentID); err == nil && doc != nil {
				name = doc.OriginalFilename
			}
			names[h.DocumentID] = name
		}
		results = append(results, Retrieved{Result: h, DocumentName: name})
	}
	return results, nil
}

// FormatContext renders retrieved chunks as the document context block
// placed in the model's system prompt.
func FormatContext(results []Retrieved) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("=== DOCUMENT CONTEXT ===\n")
	for i, r := range results {
		name := r.DocumentName
		if name == "" {
			name = "document"
		}
		if r.PageNumber > 0 {
			fmt.Fprintf(&b, "[Source %d: %s, Page %d]\n", i+1, name, r.PageNumber)
		} else {
			fmt.Fprintf(&b, "[Source %d: %s]\n", i+1, name)
		}
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("=== END DOCUMENT CONTEXT ===")
	return b.String()
}

// HasReadyDocuments reports whether the user has at least one searchable
// document.
func (s *Service) HasReadyDocuments(ctx context.Context, userID int64) bool {
	n, err := s.store.CountDocuments(ctx, userID, store.DocStatusReady)
	return err == nil && n > 0
}

// Stats summarises a user's document library.
type Stats struct {
	TotalDocuments   int  `json:"total_documents"`
	ReadyDocuments   int  `json:"ready_documents"`
	FailedDocuments  int  `json:"failed_documents"`
	TotalChunks      int  `json:"total_chunks"`
	TotalTokens      int  `json:"total_tokens"`
	MaxDocuments     int  `json:"max_documents"`
	CollectionExists bool `json:"collection_exists"`
}

// StatsForUser returns the user's document library summary.
func (s *Service) StatsForUser(ctx context.Context, userID int64) (*Stats, error) {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalDocuments: len(docs),
		MaxDocuments:   s.settings.RAGMaxDocumentsPerUser(ctx),
	}
	for _, d := range docs {
		switch d.Status {
		case store.DocStatusReady:
			st.ReadyDocuments++
		case store.DocStatusFailed:
			st.FailedDocuments++
		}
		st.TotalChunks += d.ChunkCount
		st.TotalTokens += d.TotalTokens
	}

	exists, count, err := s.vectors.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.CollectionExists = exists
	if exists {
		st.TotalChunks = count
	}
	return st, nil
}

// Get returns a user's document, enforcing ownership.
func (s *Service) Get(ctx context.Context, userID, documentID int64) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, simplychat.ErrNotFound
	}
	if doc.UserID != userID {
		return nil, simplychat.ErrForbidden
	}
	return doc, nil
}

// List returns all of a user's documents, most recent first.
func (s *Service) List(ctx context.Context, userID int64) ([]store.Document, error) {
	return s.store.ListDocuments(ctx, userID)
}

// Chunks returns a document's chunk rows, enforcing ownership.
func (s *Service) Chunks(ctx context.Context, userID, documentID int64) ([]store.DocumentChunk, error) {
	if _, err := s.Get(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentChunks(ctx, documentID)
}

// Delete removes a document, its chunks, its vectors and its file.
func (s *Service) Delete(ctx context.Context, userID, documentID int64) error {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return err
	}

	if err := s.vectors.DeleteDocument(ctx, userID, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocumentChunks(ctx, documentID); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing document file", "path", doc.FilePath, "error", err)
	}
	return nil
}

// Reprocess clears a document's chunks and vectors and runs ingestion
// again, picking up current chunking and embedding settings.
func (s *Service) Reprocess(ctx context.Context, userID, documentID int64) (*store.Document, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}

	if err := s.vectors.DeleteDocument(ctx, userID, documentID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteDocumentChunks(ctx, documentID); err != nil {
		return nil, err
	}

	if err := s.Process(ctx, doc); err != nil {
		s.log.Warn("reprocess failed", "document_id", documentID, "error", err)
	}
	return s.store.GetDocument(ctx, documentID)
}
