package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"csvtoplane/api"
	"csvtoplane/config"
	"csvtoplane/services"
	"csvtoplane/utils"
)

var Version = "1.0.0"

// 全サブコマンド共通のフラグ (指定された場合のみ設定を上書き)
var (
	tasksCSV          string
	resultCSV         string
	vocabularyFile    string
	projectName       string
	onUnresolvedState string
	onMalformedRow    string
	onCatalogError    string
	logLevel          string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "all_in_one",
		Short:   "CSV → Plane 移行ツール",
		Long:    "タスクCSVを読み込み、親子関係を保ったままPlaneのイシューとして作成します。",
		Version: Version,
		// サブコマンドなしの場合は移行処理全体を実行
		RunE:          runMigration,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Flags().Bool("purge", false, "インポート前にプロジェクトの既存イシューをすべて削除する")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&tasksCSV, "csv", "", "タスクCSVファイルパス (TASKS_CSV)")
	flags.StringVar(&resultCSV, "result", "", "結果CSVファイルパス (RESULT_CSV)")
	flags.StringVar(&vocabularyFile, "vocabulary", "", "変換表YAMLファイルパス (VOCABULARY_FILE)")
	flags.StringVar(&projectName, "project", "", "Planeプロジェクト名 (PLANE_PROJECT_NAME)")
	flags.StringVar(&onUnresolvedState, "on-unresolved-state", "", "未解決ステートの扱い: fallback | skip")
	flags.StringVar(&onMalformedRow, "on-malformed-row", "", "不正な行の扱い: skip | abort")
	flags.StringVar(&onCatalogError, "on-state-catalog-error", "", "ステート一覧取得失敗時の扱い: abort | degrade")
	flags.StringVar(&logLevel, "log-level", "", "ログレベル: debug | info")
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		switch name {
		case "tasks":
			name = "csv"
		case "vocab":
			name = "vocabulary"
		}
		return pflag.NormalizedName(name)
	})

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(statesCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig は設定を読み込み、フラグで上書きします
func loadConfig() (*config.Config, *config.Vocabulary, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}

	override(&cfg.TasksCSV, tasksCSV)
	override(&cfg.ResultCSV, resultCSV)
	override(&cfg.VocabularyFile, vocabularyFile)
	override(&cfg.ProjectName, projectName)
	override(&cfg.OnUnresolvedState, strings.ToLower(onUnresolvedState))
	override(&cfg.OnMalformedRow, strings.ToLower(onMalformedRow))
	override(&cfg.OnStateCatalogError, strings.ToLower(onCatalogError))
	override(&cfg.LogLevel, logLevel)
	utils.SetLevel(cfg.LogLevel)

	if err := cfg.ValidatePolicies(); err != nil {
		return nil, nil, err
	}

	vocab, err := config.LoadVocabulary(cfg.VocabularyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("変換表の読み込みに失敗しました: %w", err)
	}
	return cfg, vocab, nil
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// newService は設定を検証してMigrationServiceを組み立てます
func newService() (*services.MigrationService, error) {
	cfg, vocab, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	utils.LogInfo("CSV → Plane 移行ツール (v%s)", Version)
	utils.LogInfo("設定読み込み完了 (接続先: %s, ワークスペース: %s)", cfg.PlaneURL, cfg.WorkspaceSlug)

	client := api.NewPlaneClient(cfg)
	csvProc := services.NewCSVProcessor(cfg)
	return services.NewMigrationService(cfg, client, csvProc, vocab), nil
}

// signalContext はCtrl+Cで中断できるコンテキストを返します
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func runMigration(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	purge, _ := cmd.Flags().GetBool("purge")
	service, err := newService()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	summary, err := service.RunMigration(ctx, purge)
	if err != nil {
		return fmt.Errorf("移行処理に失敗しました: %w", err)
	}
	if summary.Failed > 0 {
		utils.LogWarn("%d 件のタスクが失敗しました。結果CSVを確認してください", summary.Failed)
	}

	utils.LogInfo("移行処理が完了しました。合計実行時間: %s", time.Since(startTime))
	return nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Plane APIの認証とプロジェクトを確認する",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			project, err := service.Connect(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("OK: %s (%s)\n", project.Name, project.ID)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "タスクCSVをPlaneにインポートする",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			_, err = service.ImportIssues(ctx)
			return err
		},
	}
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "プロジェクトのイシューをすべて削除する",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("削除を実行するには --yes を指定してください")
			}

			service, err := newService()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			summary, err := service.PurgeIssues(ctx)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d 件の削除に失敗しました", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "確認なしで削除する")
	return cmd
}

func statesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "プロジェクトのステート一覧を表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := newService()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			states, err := service.ListStates(ctx)
			if err != nil {
				return err
			}
			for _, s := range states {
				fmt.Printf("%-36s  %-10s  %s\n", s.ID, s.Group, s.Name)
			}
			return nil
		},
	}
}

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <ローカルID|イシューID>",
		Short: "作成済みのイシューを更新する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := services.UpdateRequest{Ref: args[0]}
			req.Title, _ = cmd.Flags().GetString("title")
			req.StatusLabel, _ = cmd.Flags().GetString("status")
			req.PriorityCode, _ = cmd.Flags().GetString("priority")

			service, err := newService()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			issue, err := service.UpdateIssue(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("更新しました: %s\n", issue.ID)
			return nil
		},
	}
	cmd.Flags().String("title", "", "新しいタイトル")
	cmd.Flags().String("status", "", "新しいステータス (CSVと同じラベル)")
	cmd.Flags().String("priority", "", "新しい優先度コード (1-4)")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Planeに接続せずにタスクCSVをチェックする",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, vocab, err := loadConfig()
			if err != nil {
				return err
			}

			service := services.NewMigrationService(cfg, api.NewPlaneClient(cfg), services.NewCSVProcessor(cfg), vocab)
			report, err := service.ValidateCSV()
			if err != nil {
				return err
			}
			services.LogValidationReport(report)
			if !report.OK() {
				return fmt.Errorf("タスクCSVに問題が見つかりました")
			}
			return nil
		},
	}
}
