package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/simplyai/simplychat/settings"
)

// Admin endpoints: settings CRUD, system API keys, model ids, rate limits.
// All require the is_admin flag.

func (a *app) handleAdminListSettings(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	all, err := a.settings.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": all})
}

func (a *app) handleAdminSetSetting(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	var req struct {
		Key         string `json:"key"`
		Value       any    `json:"value"`
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	// Secrets have their own endpoint with encryption.
	if strings.HasPrefix(req.Key, "system_api_key_") {
		writeError(w, http.StatusBadRequest, "use /api/admin/secrets for API keys")
		return
	}
	if req.Type == "" {
		req.Type = settings.TypeString
	}

	if err := a.settings.Set(r.Context(), req.Key, req.Value, req.Type, req.Description); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *app) handleAdminDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	key := cleanPathValue(r, "key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := a.settings.Delete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *app) handleAdminSecretStatus(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": a.settings.SecretStatus(r.Context())})
}

// handleAdminSetSecret stores a provider API key. An empty key deletes the
// stored one.
func (a *app) handleAdminSetSecret(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := a.settings.SetSecret(r.Context(), req.Provider, strings.TrimSpace(req.APIKey)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *app) handleAdminListModels(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	ctx := r.Context()

	models := make(map[string]string, len(settings.ModelProviders))
	for _, p := range settings.ModelProviders {
		models[p] = a.settings.SystemModelID(ctx, p)
	}
	urls := map[string]string{
		"lm_studio": a.settings.LocalModelURL(ctx, "lm_studio"),
		"ollama":    a.settings.LocalModelURL(ctx, "ollama"),
	}
	vision := map[string]bool{
		"lm_studio": a.settings.LMStudioVisionCapable(ctx),
		"ollama":    a.settings.OllamaVisionCapable(ctx),
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "urls": urls, "vision": vision})
}

func (a *app) handleAdminSetModel(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	var req struct {
		Provider string `json:"provider"`
		ModelID  string `json:"model_id"`
		URL      string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	if err := a.settings.SetSystemModelID(ctx, req.Provider, req.ModelID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL != "" {
		if err := a.settings.SetLocalModelURL(ctx, req.Provider, req.URL); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *app) handleAdminRateLimits(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, a.settings.AllRateLimits(r.Context()))
}

func (a *app) handleAdminSetRateLimit(w http.ResponseWriter, r *http.Request) {
	if !a.adminOnly(w, r) {
		return
	}
	var req struct {
		Name    string `json:"name"`
		Value   int    `json:"value"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ctx := r.Context()
	if req.Enabled != nil {
		if err := a.settings.Set(ctx, "rate_limit_enabled", *req.Enabled,
			settings.TypeBoolean, "Rate limiting enabled"); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save")
			return
		}
	}
	if req.Name != "" {
		if err := a.settings.SetRateLimit(ctx, req.Name, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, a.settings.AllRateLimits(ctx))
}
