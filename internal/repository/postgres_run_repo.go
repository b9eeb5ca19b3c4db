package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/prayersync/internal/model"
)

// PostgresRunRepo はPostgreSQLを使用したパイプライン実行履歴リポジトリ。
type PostgresRunRepo struct {
	db *sql.DB
}

// NewPostgresRunRepo はPostgresRunRepoを生成する。
func NewPostgresRunRepo(db *sql.DB) *PostgresRunRepo {
	return &PostgresRunRepo{db: db}
}

// Create は実行履歴を1件記録する。IDが空の場合はUUIDを採番する。
func (r *PostgresRunRepo) Create(ctx context.Context, run *model.PipelineRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs
		   (id, mosque_uuid, status, failure_kind, failure_reason, last_updated, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.MosqueUUID, string(run.Status),
		toNullString(string(run.FailureKind)), toNullString(run.FailureReason),
		toNullTime(run.LastUpdated), run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return nil
}

// ListRecent は指定モスクの実行履歴を開始日時の降順で返す。
func (r *PostgresRunRepo) ListRecent(ctx context.Context, mosqueUUID string, limit int) ([]*model.PipelineRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mosque_uuid, status, failure_kind, failure_reason, last_updated, started_at, finished_at
		 FROM pipeline_runs
		 WHERE mosque_uuid = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		mosqueUUID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.PipelineRun
	for rows.Next() {
		run := &model.PipelineRun{}
		var status string
		var failureKind, failureReason sql.NullString
		var lastUpdated sql.NullTime

		if err := rows.Scan(
			&run.ID, &run.MosqueUUID, &status, &failureKind, &failureReason,
			&lastUpdated, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("実行履歴のスキャンに失敗しました: %w", err)
		}

		run.Status = model.ScheduleStatus(status)
		run.FailureKind = model.FailureKind(nullStringValue(failureKind))
		run.FailureReason = nullStringValue(failureReason)
		if lastUpdated.Valid {
			t := lastUpdated.Time
			run.LastUpdated = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行履歴の取得に失敗しました: %w", err)
	}

	return runs, nil
}

// DeleteOlderThan はbefore以前に開始した実行履歴を削除する。
func (r *PostgresRunRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM pipeline_runs WHERE started_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古い実行履歴の削除に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// nullStringValue はsql.NullStringを文字列に変換する。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// toNullString は空文字列をNULLとして扱うsql.NullStringを返す。
func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var (
	_ RunRepository      = (*PostgresRunRepo)(nil)
	_ SnapshotRepository = (*FileSnapshotRepo)(nil)
)
