package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper drives SweepExpired: once after a startup delay, then on every
// interval tick until the context is cancelled.
type Sweeper struct {
	chats        IChatService
	interval     time.Duration
	startupDelay time.Duration
	logger       *zap.Logger
}

func NewSweeper(chats IChatService, interval, startupDelay time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		chats:        chats,
		interval:     interval,
		startupDelay: startupDelay,
		logger:       logger,
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	delay := time.NewTimer(s.startupDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.chats.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("cleanup sweep failed", zap.Error(err))
		return
	}
	s.logger.Debug("cleanup sweep finished", zap.Int("removed", n))
}
