package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Kind identifies one of the three indexes.
type Kind string

const (
	KindIssue         Kind = "issues"
	KindComment       Kind = "comments"
	KindChangeHistory Kind = "changes"
)

// Kinds lists every index kind in write order.
var Kinds = []Kind{KindIssue, KindComment, KindChangeHistory}

// handle owns one bleve index. Writes are serialized by writeMu; readers
// take snapshots and never wait on it.
type handle struct {
	kind    Kind
	path    string
	mapping mapping.IndexMapping

	writeMu    sync.Mutex
	optimizeMu sync.Mutex

	mu     sync.Mutex
	idx    bleve.Index
	closed bool
}

func newHandle(kind Kind, root string, m mapping.IndexMapping) *handle {
	return &handle{kind: kind, path: filepath.Join(root, string(kind)), mapping: m}
}

// index returns the open bleve index, opening or creating it on first use.
func (h *handle) index() (bleve.Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrShutdown
	}
	if h.idx != nil {
		return h.idx, nil
	}

	idx, err := openOrCreate(h.path, h.mapping)
	if err != nil {
		return nil, err
	}
	h.idx = idx
	return idx, nil
}

// drop closes the index and removes its files. The next use recreates it.
// Callers hold writeMu.
func (h *handle) drop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.idx != nil {
		if err := h.idx.Close(); err != nil {
			slog.Warn("index_close_failed", slog.String("kind", string(h.kind)), slog.String("error", err.Error()))
		}
		h.idx = nil
	}
	if err := os.RemoveAll(h.path); err != nil {
		return fmt.Errorf("failed to remove %s index: %w", h.kind, err)
	}
	return nil
}

// close releases the index for good.
func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if h.idx == nil {
		return nil
	}
	err := h.idx.Close()
	h.idx = nil
	return err
}

// openOrCreate opens the index at path, recreating it when the files on
// disk are missing or corrupt.
func openOrCreate(path string, m mapping.IndexMapping) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, err, validErr)
		}
		slog.Info("index_cleared", slog.String("path", path), slog.String("reason", "corruption detected"))
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, m)
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", removeErr, err)
		}
		slog.Info("index_cleared", slog.String("path", path), slog.String("reason", "open failed with corruption"))
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}
	return idx, nil
}

// validateIndexIntegrity returns nil when path is absent or holds a
// readable index_meta.json.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		errors.Is(err, bleve.ErrorIndexMetaCorrupt)
}
