package memory

import (
	"context"
	"sync"

	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
)

// TxManager serializes transactional sections with a single mutex. Coarse,
// but it gives the memory backend the same at-most-one-transition guarantee
// the bun backend gets from row locks.
type TxManager struct {
	mu sync.Mutex
}

var _ store.TransactionManager = (*TxManager)(nil)

func NewTxManager() *TxManager {
	return &TxManager{}
}

func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}
