package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/usecase"
)

// ExpirySweeper periodically expires open requests whose deadline has passed.
type ExpirySweeper struct {
	completion usecase.CompletionUsecase
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewExpirySweeper(lc fx.Lifecycle, cfg *config.Config, completion usecase.CompletionUsecase, logger *zap.Logger) *ExpirySweeper {
	s := &ExpirySweeper{
		completion: completion,
		interval:   cfg.Expiry.Interval,
		batchSize:  cfg.Expiry.BatchSize,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}

	if !cfg.Expiry.Enabled || s.interval <= 0 {
		logger.Info("Expiry sweeper disabled")
		return s
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting expiry sweeper",
				zap.Duration("interval", s.interval),
				zap.Int("batch_size", s.batchSize),
			)
			s.wg.Add(1)
			go s.loop()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping expiry sweeper")
			close(s.stopChan)
			s.wg.Wait()
			return nil
		},
	})

	return s
}

func (s *ExpirySweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep expires one batch per call and returns how many requests it expired.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	expired, err := s.completion.ExpireOverdue(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to expire some requests", zap.Error(err))
	}
	if expired > 0 {
		s.logger.Info("Expired overdue signature requests", zap.Int("count", expired))
	}
	return expired
}
