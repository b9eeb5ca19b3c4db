// Package pipeline は礼拝時刻スナップショットの生成パイプラインを提供する。
// 1回の実行は 前回スナップショットの読み込み → 取得 → 正規化（失敗時はフォールバック）
// → 永続化 → 実行履歴の記録 → 通知 の順に逐次処理する。
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/prayersync/internal/metrics"
	"github.com/hitoshi/prayersync/internal/model"
	"github.com/hitoshi/prayersync/internal/notify"
	"github.com/hitoshi/prayersync/internal/repository"
)

// reasonUnclassified は分類されていない取得側エラーに付与する理由。
const reasonUnclassified = "unclassified"

// Source はプロバイダの生の応答を取得する。mawaqit.Source が実装する。
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Name() string
}

// Normalizer は生の応答をスナップショットに変換する。schedule.Normalizer が実装する。
type Normalizer interface {
	Normalize(raw []byte, fetchedAt time.Time) (*model.PrayerSchedule, error)
}

// FallbackPolicy は失敗時のスナップショットを生成する。schedule.Fallback が実装する。
type FallbackPolicy interface {
	Placeholder(failure error, last *model.PrayerSchedule) *model.PrayerSchedule
}

// Pipeline はスナップショット生成の1回分の実行を担う。
// 同時に複数のRunを呼び出さないこと（スケジューラが直列に呼び出す）。
type Pipeline struct {
	source     Source
	normalizer Normalizer
	fallback   FallbackPolicy
	snapshots  repository.SnapshotRepository
	logger     *slog.Logger
	timeout    time.Duration

	runs       repository.RunRepository
	mosqueUUID string
	notifier   notify.Notifier
	metrics    metrics.PipelineMetrics
	now        func() time.Time
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
// timeoutは取得1回あたりの上限時間。
func NewPipeline(
	source Source,
	normalizer Normalizer,
	fallback FallbackPolicy,
	snapshots repository.SnapshotRepository,
	logger *slog.Logger,
	timeout time.Duration,
) *Pipeline {
	return &Pipeline{
		source:     source,
		normalizer: normalizer,
		fallback:   fallback,
		snapshots:  snapshots,
		logger:     logger,
		timeout:    timeout,
		notifier:   notify.NopNotifier{},
		now:        time.Now,
	}
}

// WithRunRecorder は実行履歴の記録先を設定する。
func (p *Pipeline) WithRunRecorder(runs repository.RunRepository, mosqueUUID string) *Pipeline {
	p.runs = runs
	p.mosqueUUID = mosqueUUID
	return p
}

// WithNotifier はスナップショットの通知先を設定する。
func (p *Pipeline) WithNotifier(n notify.Notifier) *Pipeline {
	p.notifier = n
	return p
}

// WithMetrics はメトリクスの記録先を設定する。
func (p *Pipeline) WithMetrics(m metrics.PipelineMetrics) *Pipeline {
	p.metrics = m
	return p
}

// Run はパイプラインを1回実行し、書き出したスナップショットを返す。
// 取得失敗・解析失敗はフォールバックで回復するため返さない。
// 返すエラーは *model.WriteError と、ctxが取得中にキャンセルされた場合のctx.Err()のみ。
func (p *Pipeline) Run(ctx context.Context) (*model.PrayerSchedule, error) {
	started := p.now()

	last, err := p.snapshots.Load(ctx)
	if err != nil {
		p.logger.Warn("前回のスナップショットを読み込めませんでした。前回分なしとして続行します",
			slog.String("error", err.Error()),
		)
	}

	schedule, failure := p.produce(ctx)
	if ctx.Err() != nil {
		// 停止要求による中断はプロバイダ障害ではないため、スナップショットを書き換えない
		p.logger.Info("パイプラインの実行を中断しました", slog.String("error", ctx.Err().Error()))
		return nil, ctx.Err()
	}
	if failure != nil {
		p.recordFailure(failure)
		schedule = p.fallback.Placeholder(failure, last)
	}

	if err := p.snapshots.Save(ctx, schedule); err != nil {
		p.logger.Error("スナップショットの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
		if p.metrics != nil {
			p.metrics.RecordWriteFailure()
		}
		p.recordRun(ctx, schedule, err, started)
		return nil, err
	}

	duration := p.now().Sub(started)
	if p.metrics != nil {
		p.metrics.RecordRun(schedule.Status, duration)
		p.metrics.RecordSnapshotUpdated(schedule.LastUpdated)
	}
	p.recordRun(ctx, schedule, failure, started)

	if err := p.notifier.Publish(ctx, schedule); err != nil {
		p.logger.Warn("スナップショットの通知に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("source", p.source.Name()),
		slog.String("status", string(schedule.Status)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if failure != nil {
		attrs = append(attrs, slog.String("failure_kind", string(model.KindOf(failure))))
	}
	p.logger.Info("スナップショットを更新しました", attrs...)

	return schedule, nil
}

// produce は取得と正規化を行う。失敗は取得失敗か解析失敗に分類して返す。
func (p *Pipeline) produce(ctx context.Context) (*model.PrayerSchedule, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.source.Fetch(fetchCtx)
	if err != nil {
		return nil, classify(err)
	}

	schedule, err := p.normalizer.Normalize(raw, p.now())
	if err != nil {
		return nil, classify(err)
	}
	return schedule, nil
}

// classify は分類のないエラーを取得失敗として扱う。
func classify(err error) error {
	if model.KindOf(err) != "" {
		return err
	}
	return &model.FetchError{Reason: reasonUnclassified, Err: err}
}

func (p *Pipeline) recordFailure(failure error) {
	attrs := []any{
		slog.String("source", p.source.Name()),
		slog.String("failure_kind", string(model.KindOf(failure))),
		slog.String("reason", failureReason(failure)),
		slog.String("error", failure.Error()),
	}

	var fe *model.FetchError
	if errors.As(failure, &fe) {
		if fe.StatusCode != 0 {
			attrs = append(attrs, slog.Int("http_status", fe.StatusCode))
		}
		if p.metrics != nil {
			p.metrics.RecordFetchFailure(fe.Reason)
		}
	} else if p.metrics != nil {
		p.metrics.RecordParseFailure()
	}

	p.logger.Warn("礼拝時刻を取得できなかったため、プレースホルダーを生成します", attrs...)
}

// failureReason は実行履歴・ログ用の短い失敗理由を返す。
func failureReason(err error) string {
	var fe *model.FetchError
	var pe *model.ParseError
	var we *model.WriteError
	switch {
	case errors.As(err, &fe):
		return fe.Reason
	case errors.As(err, &pe):
		if pe.Field == "" {
			return "payload"
		}
		return pe.Field
	case errors.As(err, &we):
		return "write_error"
	}
	return ""
}

// recordRun は実行履歴を記録する。失敗してもパイプラインの結果には影響しない。
func (p *Pipeline) recordRun(ctx context.Context, schedule *model.PrayerSchedule, failure error, started time.Time) {
	if p.runs == nil {
		return
	}

	run := &model.PipelineRun{
		MosqueUUID:    p.mosqueUUID,
		Status:        schedule.Status,
		FailureKind:   model.KindOf(failure),
		FailureReason: failureReason(failure),
		LastUpdated:   schedule.LastUpdated,
		StartedAt:     started,
		FinishedAt:    p.now(),
	}
	if err := p.runs.Create(ctx, run); err != nil {
		p.logger.Error("実行履歴の記録に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
