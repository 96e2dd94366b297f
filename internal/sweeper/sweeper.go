// Package sweeper 定期停用已过期的短链接。
package sweeper

import (
	"context"
	"shorturl-analytics/internal/service"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sweepable 由 service.LinkService 实现
type Sweepable interface {
	SweepExpired(ctx context.Context) (service.SweepResult, error)
}

// Sweeper 后台清理任务
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
	started  atomic.Bool
	logger   *zap.SugaredLogger
}

// New interval 为两次清理之间的间隔，单次清理最长执行 timeout
func New(target Sweepable, interval, timeout time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("sweeper"),
	}
}

// Start 启动时先执行一次，之后按间隔执行
func (s *Sweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Infof("启动过期清理任务，间隔 %s", s.interval)
	go s.loop()
}

// Stop 等待正在执行的清理结束，可重复调用
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		s.logger.Info("正在停止过期清理任务...")
		close(s.stopChan)
	})
	if s.started.Load() {
		<-s.done
	}
}

// RunOnce 执行一次清理
func (s *Sweeper) RunOnce(ctx context.Context) (service.SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.target.SweepExpired(ctx)
	if err != nil {
		s.logger.Errorf("过期清理失败: %v", err)
		return res, err
	}
	if res.Expired > 0 || res.Purged > 0 {
		s.logger.Infow("过期清理完成", "expired", res.Expired, "purged", res.Purged)
	}
	return res, nil
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, _ = s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("已停止过期清理任务。")
			return
		}
	}
}
