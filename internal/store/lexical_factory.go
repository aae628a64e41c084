package store

import (
	"fmt"
	"log/slog"
)

// Lexical backend names.
const (
	LexicalBackendSQLite = "sqlite"
	LexicalBackendBleve  = "bleve"
)

// NewLexicalIndex creates the configured lexical backend.
// SQLite FTS5 is the default; Bleve is available for deployments that
// prefer segment files over a single database.
func NewLexicalIndex(backend, path string) (LexicalIndex, error) {
	switch backend {
	case "", LexicalBackendSQLite:
		slog.Debug("lexical_backend_selected", slog.String("backend", LexicalBackendSQLite))
		return NewSQLiteLexicalIndex(path)
	case LexicalBackendBleve:
		slog.Debug("lexical_backend_selected", slog.String("backend", LexicalBackendBleve))
		return NewBleveLexicalIndex(path)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (use: sqlite, bleve)", backend)
	}
}

// LexicalIndexPath returns the index path for a backend under dataDir.
func LexicalIndexPath(backend, dataDir string) string {
	if dataDir == "" {
		return ""
	}
	switch backend {
	case LexicalBackendBleve:
		return dataDir + "/lexical.bleve"
	default:
		return dataDir + "/lexical.db"
	}
}
