package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"csvtoplane/models"
)

// APIError はPlane APIが2xx以外を返したときのエラーです
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	// RetryAfter はRetry-Afterヘッダーが有効な場合のみ設定されます
	RetryAfter *time.Duration
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s失敗 (status %d): %s", e.Op, e.StatusCode, body)
}

// Kind はステータスコードからエラー種別を判定します
func (e *APIError) Kind() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return models.ErrRateLimited
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return models.ErrAuth
	case e.StatusCode >= 500:
		return models.ErrNetwork
	default:
		return models.ErrValidation
	}
}

// Is は errors.Is(err, models.ErrRateLimited) などを可能にします
func (e *APIError) Is(target error) bool {
	return target == e.Kind()
}

// RetryHint はレート制限エラーからサーバー指定の待ち時間を取り出します
func RetryHint(err error) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RetryAfter == nil {
		return 0, false
	}
	return *apiErr.RetryAfter, true
}

// parseRetryAfter はRetry-Afterヘッダー (秒数またはHTTP日付) を解釈します
func parseRetryAfter(value string, now time.Time) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return nil
		}
		d := time.Duration(secs) * time.Second
		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}

// networkError はリクエスト送信時のエラーをNetworkErrorとして包みます
func networkError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrNetwork, err)
}
