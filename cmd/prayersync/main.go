// Command prayersync はMAWAQITから礼拝時刻を取得し、サイト用のスナップショットを生成する。
//
// サブコマンド:
//
//	run          パイプラインを1回実行する（デフォルト、ビルド時に使用）
//	worker       パイプラインを定期実行しながらスナップショットを配信する
//	serve        書き出し済みのスナップショットを配信する
//	migrate      実行履歴データベースのマイグレーションを適用する
//	healthcheck  /health を確認する（コンテナのヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/prayersync/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "prayersync: %v\n", err)
		os.Exit(1)
	}
}
