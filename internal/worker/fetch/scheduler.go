// Package fetch は礼拝時刻パイプラインの定期実行を提供する。
// スケジューラと、プレースホルダー生成時の前倒し再実行（バックオフ）戦略を含む。
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/prayersync/internal/model"
)

// PipelineRunner はパイプライン1回分の実行インターフェース。
// pipeline.Pipeline が実装する。
type PipelineRunner interface {
	Run(ctx context.Context) (*model.PrayerSchedule, error)
}

// Scheduler はパイプラインを定期的に直列実行する。
// 正常時はintervalごと、プレースホルダーや書き込み失敗が続く間は
// CalculateBackoff に従って前倒しで再実行する。
type Scheduler struct {
	runner   PipelineRunner
	logger   *slog.Logger
	interval time.Duration

	consecutiveFailures int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// intervalが0以下の場合はデフォルト値6時間を使用する。
func NewScheduler(runner PipelineRunner, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		runner:   runner,
		logger:   logger,
		interval: interval,
	}
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("パイプラインスケジューラを開始しました",
		slog.Duration("interval", s.interval),
	)

	delay := s.RunOnce(ctx)
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("パイプラインスケジューラを停止しました")
			return
		case <-timer.C:
			timer.Reset(s.RunOnce(ctx))
		}
	}
}

// RunOnce はパイプラインを1回実行し、次回実行までの待ち時間を返す。
func (s *Scheduler) RunOnce(ctx context.Context) time.Duration {
	schedule, err := s.runner.Run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return s.interval
	case err != nil:
		s.logger.Error("パイプラインの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("failure_kind", string(model.KindOf(err))),
		)
	case schedule.Status == model.StatusOK:
		if s.consecutiveFailures > 0 {
			s.logger.Info("パイプラインが回復しました",
				slog.Int("consecutive_failures", s.consecutiveFailures),
			)
		}
		s.consecutiveFailures = 0
		return s.interval
	}

	// プレースホルダーまたは書き込み失敗
	s.consecutiveFailures++
	delay := CalculateBackoff(s.consecutiveFailures-1, s.interval)
	s.logger.Warn("次回のパイプライン実行を前倒しします",
		slog.Int("consecutive_failures", s.consecutiveFailures),
		slog.Duration("next_run_in", delay),
		slog.Bool("write_failure", errors.As(err, new(*model.WriteError))),
	)
	return delay
}
