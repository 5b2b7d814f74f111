package memory

import (
	"context"
	"sync"
)

// snapshotter is a repository whose state can be captured and put back.
type snapshotter interface {
	snapshot() (restore func())
}

type txKey struct{}

// Transactor implements negotiation.Transactor over memory repositories.
// Transactions run one at a time, and a failing fn restores every
// registered repository to its state before the transaction began.
type Transactor struct {
	mu    sync.Mutex
	repos []snapshotter
}

// NewTransactor covers the given repositories. Repositories not passed in
// still work inside a transaction but are not rolled back.
func NewTransactor(repos ...snapshotter) *Transactor {
	return &Transactor{repos: repos}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Transactor); ok && owner == t {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.repos))
	for _, r := range t.repos {
		restores = append(restores, r.snapshot())
	}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
