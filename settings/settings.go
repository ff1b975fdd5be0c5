// Package settings provides the typed configuration store backed by the
// admin_settings table, including the encrypted system API key subset.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/simplyai/simplychat/store"
)

// Setting value types.
const (
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInteger = "integer"
	TypeJSON    = "json"
)

// Providers that carry system API keys.
var SecretProviders = []string{"gemini", "openai", "anthropic", "xai"}

// Providers that carry system model identifiers.
var ModelProviders = []string{"gemini", "openai", "anthropic", "xai", "lm_studio", "ollama"}

// DefaultModelIDs holds the per-provider model used when no setting exists.
var DefaultModelIDs = map[string]string{
	"gemini":    "gemini-3-flash-preview",
	"openai":    "gpt-5-mini-2025-08-07",
	"anthropic": "claude-haiku-4-5-20251001",
	"xai":       "grok-4-1-fast-non-reasoning-latest",
	"lm_studio": "",
	"ollama":    "",
}

// DefaultLocalURLs holds the default endpoints for local providers.
var DefaultLocalURLs = map[string]string{
	"lm_studio": "http://localhost:1234/v1/chat/completions",
	"ollama":    "http://localhost:11434/api/chat",
}

// DefaultRateLimits holds per-bucket request limits. Login limits are per
// minute, everything else per hour.
var DefaultRateLimits = map[string]int{
	"chat":              100,
	"attachment_upload": 50,
	"document_upload":   20,
	"login":             10,
	"register":          5,
}

// RAG defaults.
const (
	DefaultChunkSize           = 512
	DefaultOverlap             = 50
	DefaultTopK                = 5
	DefaultMinSimilarity       = 0.7
	DefaultEmbeddingProvider   = "gemini"
	DefaultMaxDocumentsPerUser = 50
)

// Service is the typed settings store. Reads hit the database directly;
// the table is tiny and read-mostly.
type Service struct {
	store *store.Store
	box   *cipherBox
	log   *slog.Logger
}

// New creates a settings service. processSecret seeds secret encryption.
func New(st *store.Store, processSecret string) (*Service, error) {
	box, err := newCipherBox(processSecret)
	if err != nil {
		return nil, err
	}
	return &Service{store: st, box: box, log: slog.With("component", "settings")}, nil
}

// Get returns the raw typed value for key, or nil when unset.
// Invalid stored values fall back to nil as well.
func (s *Service) Get(ctx context.Context, key string) (any, error) {
	row, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading setting %s: %w", key, err)
	}
	if row == nil {
		return nil, nil
	}
	return decodeValue(row.Value, row.Type), nil
}

// Set writes a typed setting. The value round-trips through a canonical
// string form.
func (s *Service) Set(ctx context.Context, key string, value any, typ, description string) error {
	encoded, err := encodeValue(value, typ)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	return s.store.SetSetting(ctx, store.Setting{
		Key: key, Value: encoded, Type: typ, Description: description,
	})
}

// Delete removes a setting.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.store.DeleteSetting(ctx, key)
}

// All returns every setting row with typed values. Secret values are
// omitted; callers use SecretStatus for those.
func (s *Service) All(ctx context.Context) (map[string]any, error) {
	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.Key, "system_api_key_") {
			continue
		}
		out[row.Key] = decodeValue(row.Value, row.Type)
	}
	return out, nil
}

func encodeValue(value any, typ string) (string, error) {
	switch typ {
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			return strconv.FormatBool(parseBool(v)), nil
		}
		return "", fmt.Errorf("not a boolean: %v", value)
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case float64:
			return strconv.Itoa(int(v)), nil
		case string:
			if _, err := strconv.Atoi(v); err != nil {
				return "", fmt.Errorf("not an integer: %q", v)
			}
			return v, nil
		}
		return "", fmt.Errorf("not an integer: %v", value)
	case TypeJSON:
		data, err := json.Marshal(value)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default: // string
		if v, ok := value.(string); ok {
			return v, nil
		}
		return fmt.Sprintf("%v", value), nil
	}
}

func decodeValue(raw, typ string) any {
	switch typ {
	case TypeBoolean:
		return parseBool(raw)
	case TypeInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil
		}
		return n
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil
		}
		return v
	default:
		return raw
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// --- typed convenience getters ---

// Bool returns a boolean setting, or def when unset or mistyped.
func (s *Service) Bool(ctx context.Context, key string, def bool) bool {
	v, err := s.Get(ctx, key)
	if err != nil {
		s.log.Warn("setting read failed", "key", key, "error", err)
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Int returns an integer setting, or def when unset or mistyped.
func (s *Service) Int(ctx context.Context, key string, def int) int {
	v, err := s.Get(ctx, key)
	if err != nil {
		s.log.Warn("setting read failed", "key", key, "error", err)
		return def
	}
	if n, ok := v.(int); ok {
		return n
	}
	return def
}

// String returns a string setting, or def when unset.
func (s *Service) String(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		s.log.Warn("setting read failed", "key", key, "error", err)
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// Float returns a float setting stored as a string, or def when unset.
func (s *Service) Float(ctx context.Context, key string, def float64) float64 {
	v, err := s.Get(ctx, key)
	if err != nil {
		s.log.Warn("setting read failed", "key", key, "error", err)
		return def
	}
	switch t := v.(type) {
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// --- feature flags ---

func (s *Service) SensitiveFilterEnabled(ctx context.Context) bool {
	return s.Bool(ctx, "sensitive_info_filter_enabled", false)
}

func (s *Service) DistilledContextEnabled(ctx context.Context) bool {
	return s.Bool(ctx, "distilled_context_enabled", false)
}

func (s *Service) ChildSafetyEnabled(ctx context.Context) bool {
	return s.Bool(ctx, "child_safety_enabled", true)
}

func (s *Service) RAGEnabled(ctx context.Context) bool {
	return s.Bool(ctx, "rag_enabled", true)
}

func (s *Service) LMStudioVisionCapable(ctx context.Context) bool {
	return s.Bool(ctx, "lm_studio_vision_capable", false)
}

func (s *Service) OllamaVisionCapable(ctx context.Context) bool {
	return s.Bool(ctx, "ollama_vision_capable", false)
}

// AgeBasedSystemPrompt returns the safety prompt for an age group, or empty
// for adults, unknown ages, or when child safety is off.
func (s *Service) AgeBasedSystemPrompt(ctx context.Context, ageGroup string) string {
	if !s.ChildSafetyEnabled(ctx) {
		return ""
	}
	switch ageGroup {
	case "child":
		return s.String(ctx, "child_system_prompt", "")
	case "teen":
		return s.String(ctx, "teen_system_prompt", "")
	}
	return ""
}

// --- RAG settings ---

func (s *Service) RAGChunkSize(ctx context.Context) int {
	return s.Int(ctx, "rag_default_chunk_size", DefaultChunkSize)
}

func (s *Service) RAGOverlap(ctx context.Context) int {
	return s.Int(ctx, "rag_default_overlap", DefaultOverlap)
}

func (s *Service) RAGTopK(ctx context.Context) int {
	return s.Int(ctx, "rag_default_top_k", DefaultTopK)
}

func (s *Service) RAGMinSimilarity(ctx context.Context) float64 {
	return s.Float(ctx, "rag_min_similarity_score", DefaultMinSimilarity)
}

func (s *Service) RAGEmbeddingProvider(ctx context.Context) string {
	return s.String(ctx, "rag_embedding_model", DefaultEmbeddingProvider)
}

func (s *Service) RAGMaxDocumentsPerUser(ctx context.Context) int {
	return s.Int(ctx, "rag_max_documents_per_user", DefaultMaxDocumentsPerUser)
}

// --- system model ids and local URLs ---

// SystemModelID returns the configured model for a provider, or its default.
func (s *Service) SystemModelID(ctx context.Context, provider string) string {
	if !contains(ModelProviders, provider) {
		return ""
	}
	v, err := s.Get(ctx, "system_model_id_"+provider)
	if err != nil || v == nil {
		return DefaultModelIDs[provider]
	}
	if str, ok := v.(string); ok {
		return str
	}
	return DefaultModelIDs[provider]
}

// SetSystemModelID stores the model identifier for a provider.
func (s *Service) SetSystemModelID(ctx context.Context, provider, modelID string) error {
	if !contains(ModelProviders, provider) {
		return fmt.Errorf("unknown model provider %q", provider)
	}
	return s.Set(ctx, "system_model_id_"+provider, strings.TrimSpace(modelID),
		TypeString, "System model ID for "+provider)
}

// LocalModelURL returns the endpoint for a local provider, or its default.
func (s *Service) LocalModelURL(ctx context.Context, provider string) string {
	if provider != "lm_studio" && provider != "ollama" {
		return ""
	}
	v, err := s.Get(ctx, "system_model_url_"+provider)
	if err != nil || v == nil {
		return DefaultLocalURLs[provider]
	}
	if str, ok := v.(string); ok && str != "" {
		return str
	}
	return DefaultLocalURLs[provider]
}

// SetLocalModelURL stores the endpoint for a local provider.
func (s *Service) SetLocalModelURL(ctx context.Context, provider, url string) error {
	if provider != "lm_studio" && provider != "ollama" {
		return fmt.Errorf("unknown local provider %q", provider)
	}
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultLocalURLs[provider]
	}
	return s.Set(ctx, "system_model_url_"+provider, url,
		TypeString, "System URL for "+provider)
}

// --- secrets ---

// Secret returns the decrypted system API key for a provider, or empty when
// unset or undecryptable.
func (s *Service) Secret(ctx context.Context, provider string) string {
	if !contains(SecretProviders, provider) {
		return ""
	}
	row, err := s.store.GetSetting(ctx, "system_api_key_"+provider)
	if err != nil || row == nil || row.Value == "" {
		return ""
	}
	plaintext, err := s.box.decrypt(row.Value)
	if err != nil {
		s.log.Warn("secret decrypt failed", "provider", provider, "error", err)
		return ""
	}
	return plaintext
}

// SetSecret encrypts and stores a system API key. An empty key deletes it.
func (s *Service) SetSecret(ctx context.Context, provider, apiKey string) error {
	if !contains(SecretProviders, provider) {
		return fmt.Errorf("unknown secret provider %q", provider)
	}
	key := "system_api_key_" + provider
	if apiKey == "" {
		return s.store.DeleteSetting(ctx, key)
	}
	token, err := s.box.encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypting secret for %s: %w", provider, err)
	}
	return s.store.SetSetting(ctx, store.Setting{
		Key: key, Value: token, Type: TypeString,
		Description: "Encrypted system API key for " + provider,
	})
}

// HasSecret reports whether a system API key is stored for a provider.
func (s *Service) HasSecret(ctx context.Context, provider string) bool {
	if !contains(SecretProviders, provider) {
		return false
	}
	row, err := s.store.GetSetting(ctx, "system_api_key_"+provider)
	return err == nil && row != nil && row.Value != ""
}

// MaskedSecret returns the key's first shown characters followed by "...",
// or empty when no key is stored.
func (s *Service) MaskedSecret(ctx context.Context, provider string, shown int) string {
	return maskKey(s.Secret(ctx, provider), shown)
}

// SecretStatusEntry describes one provider's key configuration.
type SecretStatusEntry struct {
	Configured bool   `json:"configured"`
	MaskedKey  string `json:"masked_key"`
}

// SecretStatus returns the configuration status of every provider key.
func (s *Service) SecretStatus(ctx context.Context) map[string]SecretStatusEntry {
	out := make(map[string]SecretStatusEntry, len(SecretProviders))
	for _, p := range SecretProviders {
		out[p] = SecretStatusEntry{
			Configured: s.HasSecret(ctx, p),
			MaskedKey:  s.MaskedSecret(ctx, p, 8),
		}
	}
	return out
}

// --- rate limits ---

// RateLimitEnabled reports whether rate limiting is globally on.
func (s *Service) RateLimitEnabled(ctx context.Context) bool {
	return s.Bool(ctx, "rate_limit_enabled", true)
}

// RateLimit returns the limit for a named bucket, or 0 for unknown buckets.
func (s *Service) RateLimit(ctx context.Context, name string) int {
	def, ok := DefaultRateLimits[name]
	if !ok {
		return 0
	}
	return s.Int(ctx, "rate_limit_"+name, def)
}

// SetRateLimit stores a bucket's limit.
func (s *Service) SetRateLimit(ctx context.Context, name string, value int) error {
	if _, ok := DefaultRateLimits[name]; !ok {
		return fmt.Errorf("unknown rate limit %q", name)
	}
	return s.Set(ctx, "rate_limit_"+name, value, TypeInteger, "Rate limit for "+name)
}

// AllRateLimits returns the enabled flag plus every bucket's limit.
func (s *Service) AllRateLimits(ctx context.Context) map[string]any {
	out := map[string]any{"enabled": s.RateLimitEnabled(ctx)}
	for name := range DefaultRateLimits {
		out[name] = s.RateLimit(ctx, name)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
