// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/prayersync/internal/model"
)

// SnapshotRepository は礼拝時刻スナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// Save はスナップショットを原子的に置き換える。
	// 失敗時は *model.WriteError を返し、既存のスナップショットは変更しない。
	Save(ctx context.Context, schedule *model.PrayerSchedule) error

	// Load は現在のスナップショットを読み込む。存在しない場合はnilを返す。
	Load(ctx context.Context) (*model.PrayerSchedule, error)
}

// RunRepository はパイプライン実行履歴の永続化インターフェース。
type RunRepository interface {
	// Create は実行履歴を1件記録する。
	Create(ctx context.Context, run *model.PipelineRun) error

	// ListRecent は指定モスクの実行履歴を新しい順に最大limit件返す。
	ListRecent(ctx context.Context, mosqueUUID string, limit int) ([]*model.PipelineRun, error)

	// DeleteOlderThan はbefore以前に開始した実行履歴を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
