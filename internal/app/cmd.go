package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTP APIを待ち受ける。引数省略時の既定。
	CommandServe Command = "serve"
	// CommandWorker は放置セッションを定期的にcompletedにする。
	CommandWorker Command = "worker"
	// CommandMigrate はDB_URLのデータストアにスキーマ・インデックスを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 2番目の戻り値は引数が既知のサブコマンドだったかどうか。
// 引数なしは既知のserveとして扱い、未知の引数はserveにフォールバックする。
func ParseCommand(args []string) (Command, bool) {
	if len(args) == 0 {
		return CommandServe, true
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return CommandServe, false
	}
	return cmd, true
}
