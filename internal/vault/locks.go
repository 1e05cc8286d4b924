package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
	"github.com/spoutfi/spout-cli/internal/id"
)

const fileLockRetry = 100 * time.Millisecond

// Locks serializes write sequences per vault so a second frob is never sent
// while the first is unconfirmed. Goroutines queue on an in-process slot;
// with a lock directory the holder also takes a per-vault file lock, which
// serializes separate spout processes.
type Locks struct {
	dir string

	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocks serializes within this process only.
func NewLocks() *Locks {
	return &Locks{held: map[string]*lockEntry{}}
}

// NewFileLocks serializes across processes through lock files in dir.
func NewFileLocks(dir string) *Locks {
	l := NewLocks()
	l.dir = dir
	return l
}

func vaultKey(chainID int64, owner common.Address, ilk id.Ilk) string {
	return fmt.Sprintf("%d:%s:%s", chainID, strings.ToLower(owner.Hex()), ilk.Hex())
}

func (l *Locks) lockPath(key string) string {
	return filepath.Join(l.dir, "vault-"+strings.ReplaceAll(key, ":", "-")+".lock")
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (l *Locks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.held[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.held[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var fl *flock.Flock
	if l.dir != "" {
		var err error
		fl, err = l.lockFile(ctx, key)
		if err != nil {
			<-e.sem
			l.release(key, e)
			return nil, err
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if fl != nil {
				_ = fl.Unlock()
			}
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *Locks) lockFile(ctx context.Context, key string) (*flock.Flock, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault lock directory: %w", err)
	}
	fl := flock.New(l.lockPath(key))
	locked, err := fl.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock vault: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock vault: held by another process")
	}
	return fl, nil
}

func (l *Locks) release(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.held, key)
	}
}
