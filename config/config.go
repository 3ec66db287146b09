package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 未解決ステートの扱い
const (
	UnresolvedStateFallback = "fallback" // グループキーをそのままステート値に使う
	UnresolvedStateSkip     = "skip"     // レコードをスキップする
)

// 不正なCSV行の扱い
const (
	MalformedRowSkip  = "skip"
	MalformedRowAbort = "abort"
)

// ステート一覧が取得できなかった場合の扱い
const (
	CatalogErrorAbort   = "abort"
	CatalogErrorDegrade = "degrade"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Plane API設定
	PlaneURL      string
	PlaneAPIKey   string
	WorkspaceSlug string
	ProjectName   string
	HTTPTimeout   time.Duration

	// ファイルパス
	TasksCSV       string
	ResultCSV      string
	VocabularyFile string

	// ポリシー
	OnUnresolvedState   string
	OnMalformedRow      string
	OnStateCatalogError string

	// リトライ・ペース設定
	RetryMaxAttempts int
	RetryDefaultWait time.Duration
	RetryBuffer      time.Duration
	PaceInterval     time.Duration

	LogLevel string
}

// LoadConfig は環境変数から設定を読み込みます
func LoadConfig() (*Config, error) {
	// .envファイルを読み込む
	_ = godotenv.Load()

	config := &Config{
		PlaneURL:            strings.TrimRight(getEnvWithDefault("PLANE_URL", "https://api.plane.so"), "/"),
		PlaneAPIKey:         os.Getenv("PLANE_API_KEY"),
		WorkspaceSlug:       os.Getenv("PLANE_WORKSPACE_SLUG"),
		ProjectName:         os.Getenv("PLANE_PROJECT_NAME"),
		HTTPTimeout:         getEnvAsDurationWithDefault("HTTP_TIMEOUT", 30*time.Second),
		TasksCSV:            getEnvWithDefault("TASKS_CSV", "datas.csv"),
		ResultCSV:           getEnvWithDefault("RESULT_CSV", "import_result.csv"),
		VocabularyFile:      os.Getenv("VOCABULARY_FILE"),
		OnUnresolvedState:   strings.ToLower(getEnvWithDefault("ON_UNRESOLVED_STATE", UnresolvedStateFallback)),
		OnMalformedRow:      strings.ToLower(getEnvWithDefault("ON_MALFORMED_ROW", MalformedRowSkip)),
		OnStateCatalogError: strings.ToLower(getEnvWithDefault("ON_STATE_CATALOG_ERROR", CatalogErrorAbort)),
		RetryMaxAttempts:    getEnvAsIntWithDefault("RETRY_MAX_ATTEMPTS", 3),
		RetryDefaultWait:    getEnvAsDurationWithDefault("RETRY_DEFAULT_WAIT", 5*time.Second),
		RetryBuffer:         getEnvAsDurationWithDefault("RETRY_BUFFER", time.Second),
		PaceInterval:        getEnvAsDurationWithDefault("PACE_INTERVAL", 500*time.Millisecond),
		LogLevel:            strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
	}

	if err := config.ValidatePolicies(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate はネットワークを使うコマンドに必要な設定が揃っているか確認します
func (c *Config) Validate() error {
	var missing []string
	if c.PlaneURL == "" {
		missing = append(missing, "PLANE_URL")
	}
	if c.PlaneAPIKey == "" {
		missing = append(missing, "PLANE_API_KEY")
	}
	if c.WorkspaceSlug == "" {
		missing = append(missing, "PLANE_WORKSPACE_SLUG")
	}
	if c.ProjectName == "" {
		missing = append(missing, "PLANE_PROJECT_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	return c.ValidatePolicies()
}

// ValidatePolicies はポリシーとリトライ回数の値を確認します (フラグで上書きした後にも呼びます)
func (c *Config) ValidatePolicies() error {
	var errs []error
	switch c.OnUnresolvedState {
	case UnresolvedStateFallback, UnresolvedStateSkip:
	default:
		errs = append(errs, fmt.Errorf("ON_UNRESOLVED_STATE が不正です: %q (fallback|skip)", c.OnUnresolvedState))
	}
	switch c.OnMalformedRow {
	case MalformedRowSkip, MalformedRowAbort:
	default:
		errs = append(errs, fmt.Errorf("ON_MALFORMED_ROW が不正です: %q (skip|abort)", c.OnMalformedRow))
	}
	switch c.OnStateCatalogError {
	case CatalogErrorAbort, CatalogErrorDegrade:
	default:
		errs = append(errs, fmt.Errorf("ON_STATE_CATALOG_ERROR が不正です: %q (abort|degrade)", c.OnStateCatalogError))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS は1以上を指定してください: %d", c.RetryMaxAttempts))
	}
	return errors.Join(errs...)
}

// デフォルト値付きで環境変数を取得
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// デフォルト値付きで環境変数を整数として取得
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// デフォルト値付きで環境変数を時間として取得 ("500ms", "5s" または秒数)
func getEnvAsDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(valueStr); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}
