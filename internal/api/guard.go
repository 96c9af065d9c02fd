package api

import (
	"sync"

	"github.com/starford/spices/internal/apperr"
)

// inflight rejects a second operation on a key that is still running.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: map[string]struct{}{}}
}

// acquire claims key and returns its release func, or a conflict error.
func (f *inflight) acquire(op, key, uuid string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return nil, apperr.New(apperr.KindConflict, op, uuid, errBusy)
	}
	f.keys[key] = struct{}{}
	return func() {
		f.mu.Lock()
		delete(f.keys, key)
		f.mu.Unlock()
	}, nil
}
