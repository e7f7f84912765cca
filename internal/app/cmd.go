package app

// Command はCLIのサブコマンドを表す。
type Command string

const (
	// CommandLogin はユーザー名とパスワードでログインすることを示す。
	CommandLogin Command = "login"
	// CommandLogout は現在のセッションを破棄することを示す。
	CommandLogout Command = "logout"
	// CommandWhoami は現在のユーザーIDとユーザー名を表示することを示す。
	CommandWhoami Command = "whoami"
	// CommandIdentity はアイデンティティを取得して表示することを示す。
	CommandIdentity Command = "identity"
	// CommandPartner はパートナー帰属情報を解決して表示することを示す。
	CommandPartner Command = "partner"
	// CommandStub はスタブサーバーモードで起動することを示す。
	// リモートサービスなしでSDKを試すための開発用サブコマンド。
	CommandStub Command = "stub"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandIdentityを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandIdentity
	}

	switch args[0] {
	case "login":
		return CommandLogin
	case "logout":
		return CommandLogout
	case "whoami":
		return CommandWhoami
	case "identity":
		return CommandIdentity
	case "partner":
		return CommandPartner
	case "stub":
		return CommandStub
	default:
		return CommandIdentity
	}
}
