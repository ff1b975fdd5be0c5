package simplychat

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("simplychat: not found")

	// ErrForbidden is returned when a user acts on a resource they do not own.
	ErrForbidden = errors.New("simplychat: forbidden")

	// ErrUnsupportedFormat is returned for unrecognized document file types.
	ErrUnsupportedFormat = errors.New("simplychat: unsupported document format")

	// ErrEmptyDocument is returned when extraction yields no text content.
	ErrEmptyDocument = errors.New("simplychat: no text content")

	// ErrEmptyMessage is returned for a chat turn with no text and no attachments.
	ErrEmptyMessage = errors.New("simplychat: empty message")

	// ErrQuotaExceeded is returned when a user is at their document quota.
	ErrQuotaExceeded = errors.New("simplychat: document quota exceeded")

	// ErrEmbeddingFailed is returned when all embedding providers fail.
	ErrEmbeddingFailed = errors.New("simplychat: embedding generation failed")

	// ErrProviderUnavailable is returned when an LLM provider is unreachable.
	ErrProviderUnavailable = errors.New("simplychat: provider unavailable")

	// ErrUnknownProvider is returned for a provider name outside the supported set.
	ErrUnknownProvider = errors.New("simplychat: unknown provider")

	// ErrVisionNotSupported is returned when images are sent to a provider
	// that cannot accept them.
	ErrVisionNotSupported = errors.New("simplychat: provider cannot accept images")

	// ErrSessionInvalidated is returned when a request presents a session
	// token that is no longer the user's active token.
	ErrSessionInvalidated = errors.New("simplychat: session invalidated")

	// ErrInvalidCredentials is returned for a failed login attempt.
	ErrInvalidCredentials = errors.New("simplychat: invalid credentials")

	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("simplychat: account locked")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("simplychat: invalid configuration")
)
