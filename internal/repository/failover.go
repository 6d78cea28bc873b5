package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"studiobook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverDateLocker uses the primary locker until it fails, then the
// fallback, probing the primary again after recoveryInterval.
type FailoverDateLocker struct {
	primary          domain.DateLocker
	fallback         domain.DateLocker
	logger           *zerolog.Logger
	isDown           atomic.Bool
	mu               sync.Mutex
	lastCheck        time.Time
	recoveryInterval time.Duration
}

func NewFailoverDateLocker(primary, fallback domain.DateLocker, logger *zerolog.Logger) *FailoverDateLocker {
	return &FailoverDateLocker{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: time.Minute,
	}
}

func (l *FailoverDateLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.usePrimary() {
		unlock, err := l.primary.Lock(ctx, key)
		if err == nil {
			if l.isDown.CompareAndSwap(true, false) {
				l.logger.Info().Msg("Primary date locker recovered")
			}
			return unlock, nil
		}
		// lock timeouts and cancellation do not trip failover
		if errors.Is(err, domain.ErrLockTimeout) || ctx.Err() != nil {
			return nil, err
		}
		l.logger.Error().Err(err).Msg("Primary date locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.Lock(ctx, key)
}

func (l *FailoverDateLocker) usePrimary() bool {
	if !l.isDown.Load() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCheck) > l.recoveryInterval {
		l.lastCheck = time.Now()
		return true
	}
	return false
}

func (l *FailoverDateLocker) markDown() {
	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()
	l.isDown.Store(true)
}
