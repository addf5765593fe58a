package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// ErrSuperseded is returned by a call that was replaced by a newer call with
// the same key before it finished.
var ErrSuperseded = errors.New("superseded by a newer search")

type call struct {
	gen    uint64
	cancel context.CancelFunc
}

// Latest lets only the most recent call per key deliver its result. Starting
// a call cancels the context of the previous in-flight call with the same key.
type Latest struct {
	mu    sync.Mutex
	gen   uint64
	calls map[string]*call
}

// NewLatest creates an empty guard.
func NewLatest() *Latest {
	return &Latest{calls: make(map[string]*call)}
}

// Do runs fn under key. If another call with the same key starts before fn
// returns, Do returns ErrSuperseded regardless of fn's result.
func (l *Latest) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	if prev, ok := l.calls[key]; ok {
		prev.cancel()
	}
	l.gen++
	gen := l.gen
	l.calls[key] = &call{gen: gen, cancel: cancel}
	l.mu.Unlock()

	err := fn(ctx)

	l.mu.Lock()
	cur, ok := l.calls[key]
	stale := !ok || cur.gen != gen
	if !stale {
		delete(l.calls, key)
	}
	l.mu.Unlock()

	if stale {
		return ErrSuperseded
	}
	return err
}

// Filter runs p.Filter under key.
func (l *Latest) Filter(ctx context.Context, key string, p *Pipeline, businesses []models.BusinessSummary, filter models.Filters) (*Result, error) {
	var res *Result
	err := l.Do(ctx, key, func(ctx context.Context) error {
		var err error
		res, err = p.Filter(ctx, businesses, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// InFlight returns the number of keys with a running call.
func (l *Latest) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}
