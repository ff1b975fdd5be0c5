package simplychat

import "path/filepath"

// Config holds all configuration for the chat service.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to instance/app.db under DataDir's parent.
	DBPath string `json:"db_path"`

	// VectorDBPath is the path to the vector index database.
	// If empty, defaults to data/vectors.db.
	VectorDBPath string `json:"vector_db_path"`

	// UploadDir is the root of the upload tree. Attachments and RAG
	// documents are partitioned into images/, documents/ and rag_documents/
	// beneath it.
	UploadDir string `json:"upload_dir"`

	// SecretKey seeds session cookie signing and the settings-store
	// secret encryption key derivation.
	SecretKey string `json:"secret_key"`

	// Env is one of development, testing, production.
	Env string `json:"env"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		DBPath:       filepath.Join("instance", "app.db"),
		VectorDBPath: filepath.Join("data", "vectors.db"),
		UploadDir:    "uploads",
		Env:          "development",
		LogLevel:     "info",
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return ErrInvalidConfig
	}
	return nil
}

// ImagesDir returns the attachment image directory.
func (c *Config) ImagesDir() string { return filepath.Join(c.UploadDir, "images") }

// DocumentsDir returns the attachment document directory.
func (c *Config) DocumentsDir() string { return filepath.Join(c.UploadDir, "documents") }

// RAGDocumentsDir returns the RAG source document directory.
func (c *Config) RAGDocumentsDir() string { return filepath.Join(c.UploadDir, "rag_documents") }
