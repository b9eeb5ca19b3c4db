package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun はパイプラインを1回実行して終了することを示す（ビルド前のデータ取得用）。
	CommandRun Command = "run"
	// CommandWorker はパイプラインを定期実行しつつHTTPで配信することを示す。
	CommandWorker Command = "worker"
	// CommandServe はスナップショットをHTTPで配信するだけのモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate は実行履歴データベースのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandRunを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandRun
	}

	switch Command(args[0]) {
	case CommandWorker, CommandServe, CommandMigrate, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandRun
	}
}
