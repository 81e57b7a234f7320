package storage

import (
	"errors"
	"fmt"

	"github.com/shhac/reflex/internal/domain"
)

const (
	maxRecent      = 10
	maxHistory     = 100
	maxRequestName = 64
)

var (
	// ErrRequestNotFound is returned for an unknown saved request name.
	ErrRequestNotFound = errors.New("saved request not found")
	// ErrInvalidName is returned for a saved request name that cannot be
	// used on the command line.
	ErrInvalidName = errors.New("invalid request name")
)

// Repository persists what the CLI remembers between runs.
type Repository interface {
	// SaveRequest stores req under req.Name, replacing any earlier one.
	SaveRequest(req domain.SavedRequest) error
	Request(name string) (domain.SavedRequest, error)
	// Requests returns every saved request ordered by name.
	Requests() ([]domain.SavedRequest, error)
	DeleteRequest(name string) error

	// RecordEndpoint moves ep to the front of the recent endpoints.
	RecordEndpoint(ep domain.RecentEndpoint) error
	RecentEndpoints() ([]domain.RecentEndpoint, error)

	// AppendHistory adds a call, newest first. Entries past the cap drop off.
	AppendHistory(entry domain.HistoryEntry) error
	// History returns up to limit entries, newest first. limit <= 0 means all.
	History(limit int) ([]domain.HistoryEntry, error)
	// ClearHistory forgets past calls and recent endpoints.
	ClearHistory() error
}

// checkRequestName accepts names that are usable as a single shell word:
// ASCII letters, digits, '-', '_' and '.', not starting with '.'.
func checkRequestName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxRequestName:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, maxRequestName)
	case name[0] == '.':
		return fmt.Errorf("%w: %q starts with '.'", ErrInvalidName, name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
	}
	return nil
}

// pushFront returns list with item first, earlier entries matching item
// removed and the result cut to limit.
func pushFront[T any](list []T, item T, limit int, same func(a, b T) bool) []T {
	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, item)
	for _, v := range list {
		if len(out) == limit {
			break
		}
		if same != nil && same(v, item) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// newest returns a copy of the first limit entries, or all when limit <= 0.
func newest[T any](list []T, limit int) []T {
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append(make([]T, 0, len(list)), list...)
}

func sameEndpoint(a, b domain.RecentEndpoint) bool {
	return a.Endpoint == b.Endpoint && a.Plaintext == b.Plaintext
}
