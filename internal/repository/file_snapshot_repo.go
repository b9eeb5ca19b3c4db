package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hitoshi/prayersync/internal/model"
)

// snapshotFileMode はサイトのビルドプロセスから読めるパーミッション。
const snapshotFileMode = 0o644

// FileSnapshotRepo はJSONファイルを使用したスナップショットリポジトリ。
// 同一ディレクトリの一時ファイルに書いてからrenameするため、
// 読み手は常に旧版か新版の完全なファイルだけを観測する。
type FileSnapshotRepo struct {
	path   string
	rename func(oldpath, newpath string) error
}

// NewFileSnapshotRepo はFileSnapshotRepoを生成する。
func NewFileSnapshotRepo(path string) *FileSnapshotRepo {
	return &FileSnapshotRepo{
		path:   path,
		rename: os.Rename,
	}
}

// Path はスナップショットの出力先を返す。
func (r *FileSnapshotRepo) Path() string {
	return r.path
}

// Save はスナップショットを2スペースインデントのJSONで原子的に書き出す。
func (r *FileSnapshotRepo) Save(ctx context.Context, schedule *model.PrayerSchedule) error {
	if err := ctx.Err(); err != nil {
		return &model.WriteError{Path: r.path, Err: err}
	}

	data, err := encodeSnapshot(schedule)
	if err != nil {
		return &model.WriteError{Path: r.path, Err: err}
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &model.WriteError{Path: r.path, Err: fmt.Errorf("出力ディレクトリの作成に失敗しました: %w", err)}
	}

	if err := r.writeAtomic(dir, data); err != nil {
		return &model.WriteError{Path: r.path, Err: err}
	}
	return nil
}

func (r *FileSnapshotRepo) writeAtomic(dir string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("一時ファイルのfsyncに失敗しました: %w", err)
	}
	if err = tmp.Chmod(snapshotFileMode); err != nil {
		return fmt.Errorf("パーミッションの設定に失敗しました: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗しました: %w", err)
	}
	if err = r.rename(tmpName, r.path); err != nil {
		return fmt.Errorf("スナップショットの置き換えに失敗しました: %w", err)
	}

	// rename自体を永続化する。ディレクトリのfsyncに失敗してもファイルは置き換わっている
	if d, derr := os.Open(dir); derr == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// Load は現在のスナップショットを読み込む。ファイルがない場合はnilを返す。
func (r *FileSnapshotRepo) Load(ctx context.Context) (*model.PrayerSchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スナップショットの読み込みに失敗しました: %w", err)
	}

	var schedule model.PrayerSchedule
	if err := json.Unmarshal(data, &schedule); err != nil {
		return nil, fmt.Errorf("スナップショットのデコードに失敗しました: %w", err)
	}
	return &schedule, nil
}

func encodeSnapshot(schedule *model.PrayerSchedule) ([]byte, error) {
	if schedule == nil {
		return nil, errors.New("スナップショットがnilです")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schedule); err != nil {
		return nil, fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
