package verification

import (
	"context"
	"sync"

	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/mattermost/mattermost/server/public/pluginapi/cluster"
)

// Locker provides a named critical section. The returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ClusterLocker serializes across every node of a Mattermost cluster
type ClusterLocker struct {
	api plugin.API
}

// NewClusterLocker creates a locker backed by cluster mutexes
func NewClusterLocker(api plugin.API) *ClusterLocker {
	return &ClusterLocker{api: api}
}

// Lock acquires the cluster mutex for key, giving up when ctx is done
func (l *ClusterLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex, err := cluster.NewMutex(l.api, key)
	if err != nil {
		return nil, err
	}

	if err := mutex.LockWithContext(ctx); err != nil {
		return nil, err
	}

	return mutex.Unlock, nil
}

// LocalLocker serializes within a single process
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock acquires the in-process lock for key, giving up when ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(key, lock)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}
