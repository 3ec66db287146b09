package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"csvtoplane/api"
	"csvtoplane/config"
	"csvtoplane/utils"
)

func main() {
	// フラグの定義
	project := pflag.StringP("project", "p", "", "確認するPlaneプロジェクト名 (デフォルト: PLANE_PROJECT_NAME)")
	projectID := pflag.String("project-id", "", "プロジェクトIDを直接指定する (名前による検索を行わない)")
	help := pflag.BoolP("help", "h", false, "ヘルプを表示する")

	// フラグのパース
	pflag.Parse()

	// ヘルプフラグが指定された場合はヘルプを表示
	if *help {
		printHelp()
		return
	}

	utils.LogInfo("Plane認証確認ツール")

	// 設定の読み込み
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.LogError("設定の読み込みに失敗しました: %v", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.LogLevel)
	if *project != "" {
		cfg.ProjectName = *project
	}
	if *projectID != "" && cfg.ProjectName == "" {
		// IDを直接指定する場合は名前は表示用のみ
		cfg.ProjectName = *projectID
	}
	if err := cfg.Validate(); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Planeクライアントの初期化
	client := api.NewPlaneClient(cfg)

	// 認証チェック
	utils.LogInfo("Plane APIの認証を確認しています...")
	if err := client.CheckAuth(ctx); err != nil {
		utils.LogError("Plane認証エラー: %v", err)
		utils.LogError("APIキーとワークスペースを確認してください。")
		os.Exit(1)
	}
	utils.LogInfo("Plane認証成功！ 接続先: %s", cfg.PlaneURL)

	// プロジェクトとステートの確認
	if *projectID != "" {
		client = client.WithProjectID(*projectID)
	} else {
		p, err := client.ResolveProject(ctx, cfg.ProjectName)
		if err != nil {
			utils.LogError("プロジェクトが見つかりません: %v", err)
			os.Exit(1)
		}
		utils.LogInfo("プロジェクト名: %s", p.Name)
	}
	utils.LogInfo("プロジェクトID: %s", client.ProjectID())

	states, err := client.ListStates(ctx)
	if err != nil {
		utils.LogError("ステート一覧を取得できませんでした: %v", err)
		os.Exit(1)
	}
	for _, s := range states {
		utils.LogInfo("  ステート: %-12s %s", s.Group, s.Name)
	}
	utils.LogInfo("Plane APIの認証情報は正常です。")
}

// ヘルプメッセージを表示する関数
func printHelp() {
	fmt.Printf(`
Plane認証確認ツール

使用方法:
  %s [オプション]

オプション:
  -p, --project NAME   確認するプロジェクト名
  --project-id ID      プロジェクトIDを直接指定する
  -h, --help           このヘルプを表示する

環境変数:
  PLANE_URL             Plane URL (デフォルト: https://api.plane.so)
  PLANE_API_KEY         Plane APIキー (必須)
  PLANE_WORKSPACE_SLUG  ワークスペースのスラッグ (必須)
  PLANE_PROJECT_NAME    プロジェクト名 (必須)

説明:
  このツールはPlane APIの認証情報とプロジェクトの設定を確認し、
  プロジェクトのステート一覧を表示します。
`, os.Args[0])
}
