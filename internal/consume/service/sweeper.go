package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval 补偿任务扫描周期
const DefaultSweepInterval = time.Minute

// Sweeper 周期性执行 CompensationLedger.SweepOnce 的后台 worker
type Sweeper struct {
	ledger   *CompensationLedger
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(ledger *CompensationLedger, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start 启动后台扫描，ctx 取消或 Stop 后退出
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("compensation sweeper started", zap.Duration("interval", s.interval))
}

// Stop 等待进行中的一轮扫描结束后返回，可重复调用
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	report, err := s.ledger.SweepOnce(ctx)
	if err != nil {
		s.logger.Error("compensation sweep failed", zap.Error(err))
		return
	}
	if report.Processed == 0 && report.Exhausted == 0 {
		return
	}
	s.logger.Info("compensation sweep finished",
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("exhausted", report.Exhausted),
		zap.Duration("cost", time.Since(start)),
	)
}
