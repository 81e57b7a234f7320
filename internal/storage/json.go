package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/shhac/reflex/internal/domain"
)

// document is a single JSON file holding one value. A missing file reads
// as the zero value.
type document[T any] struct {
	path string
}

func (d document[T]) read() (T, error) {
	var v T
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, nil
	}
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", filepath.Base(d.path), err)
	}
	return v, nil
}

// write replaces the file in one rename so readers never see a partial
// document.
func (d document[T]) write(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(d.path), err)
	}
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path)
}

func (d document[T]) remove() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// JSONRepository keeps state as three JSON documents in one directory:
// requests.json (saved requests keyed by name), recent.json and
// history.json. The directory is created on first write.
type JSONRepository struct {
	logger *slog.Logger

	mu       sync.Mutex
	requests document[map[string]domain.SavedRequest]
	recent   document[[]domain.RecentEndpoint]
	history  document[[]domain.HistoryEntry]
}

var _ Repository = (*JSONRepository)(nil)

// NewJSONRepository creates a repository rooted at dir.
func NewJSONRepository(dir string, logger *slog.Logger) *JSONRepository {
	return &JSONRepository{
		logger:   logger,
		requests: document[map[string]domain.SavedRequest]{path: filepath.Join(dir, "requests.json")},
		recent:   document[[]domain.RecentEndpoint]{path: filepath.Join(dir, "recent.json")},
		history:  document[[]domain.HistoryEntry]{path: filepath.Join(dir, "history.json")},
	}
}

func (r *JSONRepository) SaveRequest(req domain.SavedRequest) error {
	if err := checkRequestName(req.Name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.requests.read()
	if err != nil {
		return fmt.Errorf("load saved requests: %w", err)
	}
	if all == nil {
		all = make(map[string]domain.SavedRequest)
	}
	all[req.Name] = req
	if err := r.requests.write(all); err != nil {
		return fmt.Errorf("store saved requests: %w", err)
	}
	r.logger.Debug("saved request", slog.String("name", req.Name), slog.String("method", req.Method))
	return nil
}

func (r *JSONRepository) Request(name string) (domain.SavedRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.requests.read()
	if err != nil {
		return domain.SavedRequest{}, fmt.Errorf("load saved requests: %w", err)
	}
	req, ok := all[name]
	if !ok {
		return domain.SavedRequest{}, fmt.Errorf("%w: %q", ErrRequestNotFound, name)
	}
	return req, nil
}

func (r *JSONRepository) Requests() ([]domain.SavedRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.requests.read()
	if err != nil {
		return nil, fmt.Errorf("load saved requests: %w", err)
	}
	out := make([]domain.SavedRequest, 0, len(all))
	for _, name := range slices.Sorted(maps.Keys(all)) {
		out = append(out, all[name])
	}
	return out, nil
}

func (r *JSONRepository) DeleteRequest(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.requests.read()
	if err != nil {
		return fmt.Errorf("load saved requests: %w", err)
	}
	if _, ok := all[name]; !ok {
		return fmt.Errorf("%w: %q", ErrRequestNotFound, name)
	}
	delete(all, name)
	if err := r.requests.write(all); err != nil {
		return fmt.Errorf("store saved requests: %w", err)
	}
	r.logger.Debug("deleted request", slog.String("name", name))
	return nil
}

func (r *JSONRepository) RecordEndpoint(ep domain.RecentEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.recent.read()
	if err != nil {
		return fmt.Errorf("load recent endpoints: %w", err)
	}
	return r.recent.write(pushFront(list, ep, maxRecent, sameEndpoint))
}

func (r *JSONRepository) RecentEndpoints() ([]domain.RecentEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.recent.read()
	if err != nil {
		return nil, fmt.Errorf("load recent endpoints: %w", err)
	}
	return newest(list, 0), nil
}

func (r *JSONRepository) AppendHistory(entry domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.history.read()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if err := r.history.write(pushFront(list, entry, maxHistory, nil)); err != nil {
		return fmt.Errorf("store history: %w", err)
	}
	r.logger.Debug("recorded call", slog.String("id", entry.ID), slog.String("method", entry.Method))
	return nil
}

func (r *JSONRepository) History(limit int) ([]domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.history.read()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return newest(list, limit), nil
}

func (r *JSONRepository) ClearHistory() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.history.remove(), r.recent.remove())
}
