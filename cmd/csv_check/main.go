package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"csvtoplane/config"
	"csvtoplane/services"
	"csvtoplane/utils"
)

func main() {
	// コマンドラインフラグの定義
	input := pflag.StringP("input", "i", "", "タスクCSVファイルのパス（指定しない場合は環境変数から取得）")
	vocabPath := pflag.String("vocabulary", "", "変換表YAMLファイルのパス（指定しない場合は環境変数から取得）")
	strict := pflag.Bool("strict", false, "不正な行が1つでもあれば即座にエラーにする")
	help := pflag.BoolP("help", "h", false, "ヘルプを表示する")

	// フラグのパース
	pflag.Parse()

	if *help {
		printHelp()
		return
	}

	startTime := time.Now()

	utils.LogInfo("タスクCSVチェックツール")

	// 設定の読み込み
	cfg, err := config.LoadConfig()
	if err != nil {
		utils.LogError("設定の読み込みに失敗しました: %v", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.LogLevel)

	// コマンドラインでパスが指定された場合、設定を上書き
	if *input != "" {
		cfg.TasksCSV = *input
		utils.LogInfo("入力ファイルを指定: %s", cfg.TasksCSV)
	}
	if *vocabPath != "" {
		cfg.VocabularyFile = *vocabPath
	}
	if *strict {
		cfg.OnMalformedRow = config.MalformedRowAbort
	}
	if err := cfg.ValidatePolicies(); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}

	vocab, err := config.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		utils.LogError("変換表の読み込みに失敗しました: %v", err)
		os.Exit(1)
	}

	// CSVの読み込みとチェック
	csvProc := services.NewCSVProcessor(cfg)
	parsed, err := csvProc.ReadTasksCSV()
	if err != nil {
		utils.LogError("タスクCSV読み込みエラー: %v", err)
		os.Exit(1)
	}

	report := services.BuildValidationReport(parsed, vocab)
	services.LogValidationReport(report)

	utils.LogInfo("チェックが完了しました。実行時間: %s", time.Since(startTime))
	if !report.OK() {
		os.Exit(2)
	}
}

// ヘルプメッセージを表示する関数
func printHelp() {
	fmt.Printf(`
タスクCSVチェックツール

使用方法:
  %s [オプション]

オプション:
  -i, --input PATH     タスクCSVファイルのパス
  --vocabulary PATH    変換表YAMLファイルのパス
  --strict             不正な行があれば即座にエラーにする
  -h, --help           このヘルプを表示する

環境変数:
  TASKS_CSV         タスクCSVファイルパス (デフォルト: datas.csv)
  VOCABULARY_FILE   変換表YAMLファイルパス (省略時は組み込みの変換表)

説明:
  Planeに接続せずに、タスクCSVの不正な行、存在しない親の参照、
  重複したID、変換表に無いステータス・担当者・優先度を報告します。
`, os.Args[0])
}
