package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
)

// Document library endpoints over the rag service.

func (a *app) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.rag.List(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleUploadDocument ingests a document into the user's library. The
// optional project_id form field is accepted and ignored.
func (a *app) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !a.allowRate(w, r, "document_upload") {
		return
	}

	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > maxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds 20 MiB limit")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
	if err != nil || int64(len(data)) > maxDocumentBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	doc, err := a.rag.Upload(r.Context(), currentUser(r).ID,
		filepath.Base(header.Filename), header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (a *app) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := a.rag.Get(r.Context(), currentUser(r).ID, id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := map[string]any{"document": doc}
	if r.URL.Query().Get("include_chunks") == "true" {
		chunks, err := a.rag.Chunks(r.Context(), currentUser(r).ID, id)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp["chunks"] = chunks
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := a.rag.Delete(r.Context(), currentUser(r).ID, id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *app) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := a.rag.Reprocess(r.Context(), currentUser(r).ID, id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc})
}

func (a *app) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query       string  `json:"query"`
		TopK        int     `json:"top_k"`
		MinScore    float64 `json:"min_score"`
		DocumentIDs []int64 `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK < 0 || req.TopK > 50 {
		req.TopK = 0 // use default
	}
	if req.MinScore < 0 || req.MinScore > 1 {
		req.MinScore = 0
	}

	results, err := a.rag.Search(r.Context(), currentUser(r).ID, req.Query, req.TopK, req.MinScore, req.DocumentIDs)
	if err != nil {
		slog.Error("document search", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *app) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.rag.StatsForUser(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(cleanPathValue(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}
