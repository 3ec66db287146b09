package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"csvtoplane/api"
	"csvtoplane/config"
	"csvtoplane/services"
	"csvtoplane/utils"
)

func main() {
	// コマンドラインフラグの定義
	csvPath := pflag.String("csv", "", "タスクCSVファイルパス (デフォルト: TASKS_CSV)")
	vocabPath := pflag.String("vocabulary", "", "変換表YAMLファイルパス (デフォルト: VOCABULARY_FILE)")
	maxAttempts := pflag.Int("attempts", 0, "レート制限時の最大試行回数 (0の場合は設定ファイルの値を使用)")
	help := pflag.BoolP("help", "h", false, "ヘルプを表示する")

	// フラグのパース
	pflag.Parse()

	if *help {
		printHelp()
		return
	}

	startTime := time.Now()

	// 設定の読み込み
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.LogError("設定の読み込みに失敗しました: %v", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.LogLevel)

	if *csvPath != "" {
		cfg.TasksCSV = *csvPath
	}
	if *vocabPath != "" {
		cfg.VocabularyFile = *vocabPath
	}
	if *maxAttempts > 0 {
		cfg.RetryMaxAttempts = *maxAttempts
	}
	if err := cfg.Validate(); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}

	vocab, err := config.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		utils.LogError("変換表の読み込みに失敗しました: %v", err)
		os.Exit(1)
	}

	utils.LogInfo("Planeイシューインポートツール")
	utils.LogInfo("設定読み込み完了 (最大試行回数: %d, 間隔: %s)", cfg.RetryMaxAttempts, cfg.PaceInterval)

	// 必要なサービスの初期化
	client := api.NewPlaneClient(cfg)
	csvProc := services.NewCSVProcessor(cfg)
	migrationService := services.NewMigrationService(cfg, client, csvProc, vocab)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// インポートの実行
	summary, err := migrationService.ImportIssues(ctx)
	if err != nil {
		utils.LogError("インポート処理に失敗しました: %v", err)
		os.Exit(1)
	}

	utils.LogInfo("インポートが完了しました。結果: %s, 合計実行時間: %s", cfg.ResultCSV, time.Since(startTime))
	if summary.Failed > 0 {
		os.Exit(2)
	}
}

// ヘルプメッセージを表示する関数
func printHelp() {
	fmt.Printf(`
Planeイシューインポートツール

使用方法:
  %s [オプション]

オプション:
  --csv PATH          タスクCSVファイルパス
  --vocabulary PATH   変換表YAMLファイルパス
  --attempts N        レート制限時の最大試行回数
  -h, --help          このヘルプを表示する

環境変数:
  PLANE_URL               Plane URL (デフォルト: https://api.plane.so)
  PLANE_API_KEY           Plane APIキー (必須)
  PLANE_WORKSPACE_SLUG    ワークスペースのスラッグ (必須)
  PLANE_PROJECT_NAME      プロジェクト名 (必須)
  TASKS_CSV               タスクCSVファイルパス (デフォルト: datas.csv)
  RESULT_CSV              結果CSVファイルパス (デフォルト: import_result.csv)
  ON_UNRESOLVED_STATE     未解決ステートの扱い: fallback | skip (デフォルト: fallback)
  ON_MALFORMED_ROW        不正な行の扱い: skip | abort (デフォルト: skip)
  ON_STATE_CATALOG_ERROR  ステート一覧取得失敗時: abort | degrade (デフォルト: abort)
  PACE_INTERVAL           リクエスト間隔 (デフォルト: 500ms)

終了コード:
  0  すべて作成成功
  1  設定・接続エラー
  2  一部のタスクが失敗
`, os.Args[0])
}
