package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"csvtoplane/api"
	"csvtoplane/config"
	"csvtoplane/models"
	"csvtoplane/utils"
)

// IssueMutator はイシューを変更するAPIです
type IssueMutator interface {
	CreateIssue(ctx context.Context, issue models.IssuePayload) (*models.Issue, error)
	UpdateIssue(ctx context.Context, issueID string, patch map[string]interface{}) (*models.Issue, error)
	DeleteIssue(ctx context.Context, issueID string) error
}

// RetryPolicy はレート制限時のリトライとペースの設定です
type RetryPolicy struct {
	MaxAttempts  int           // 1回目を含む試行回数の上限
	DefaultWait  time.Duration // Retry-Afterが無い場合の待ち時間
	Buffer       time.Duration // 待ち時間に毎回加える余裕
	PaceInterval time.Duration // 前の変更系リクエストの完了から次の開始までの間隔
}

// RetryPolicyFromConfig は設定からリトライ設定を作成します
func RetryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		DefaultWait:  cfg.RetryDefaultWait,
		Buffer:       cfg.RetryBuffer,
		PaceInterval: cfg.PaceInterval,
	}
}

// MutationState は変更リクエストの最終状態です
type MutationState string

const (
	MutationSucceeded MutationState = "success"
	MutationFailed    MutationState = "failed"
)

// MutationResult は1回の変更操作 (リトライ込み) の結果です
type MutationResult struct {
	State    MutationState
	Issue    *models.Issue // 作成・更新が成功した場合
	Err      error         // 失敗した場合
	Attempts int
	Waits    []time.Duration
}

// Succeeded は成功したかどうかを返します
func (r MutationResult) Succeeded() bool {
	return r.State == MutationSucceeded
}

// Mutator はレート制限を考慮して変更系APIを呼び出します。
// 同時に複数のゴルーチンから使うことは想定していません。
type Mutator struct {
	tracker IssueMutator
	policy  RetryPolicy
	limit   rate.Limit
	limiter *rate.Limiter
	timer   backoff.Timer
}

// NewMutator は新しいMutatorを作成します
func NewMutator(tracker IssueMutator, policy RetryPolicy) *Mutator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	limit := rate.Inf
	if policy.PaceInterval > 0 {
		limit = rate.Every(policy.PaceInterval)
	}

	return &Mutator{
		tracker: tracker,
		policy:  policy,
		limit:   limit,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// WithTimer はリトライ待ちに使うタイマーを差し替えます (テスト用)
func (m *Mutator) WithTimer(timer backoff.Timer) *Mutator {
	m.timer = timer
	return m
}

// Create はイシューを作成します
func (m *Mutator) Create(ctx context.Context, issue models.IssuePayload) MutationResult {
	var created *models.Issue
	result := m.run(ctx, "イシュー作成 "+issue.Title, func() error {
		var err error
		created, err = m.tracker.CreateIssue(ctx, issue)
		return err
	})
	if result.Succeeded() {
		result.Issue = created
	}
	return result
}

// Update はイシューを部分更新します
func (m *Mutator) Update(ctx context.Context, issueID string, patch map[string]interface{}) MutationResult {
	var updated *models.Issue
	result := m.run(ctx, "イシュー更新 "+issueID, func() error {
		var err error
		updated, err = m.tracker.UpdateIssue(ctx, issueID, patch)
		return err
	})
	if result.Succeeded() {
		result.Issue = updated
	}
	return result
}

// Delete はイシューを削除します
func (m *Mutator) Delete(ctx context.Context, issueID string) MutationResult {
	return m.run(ctx, "イシュー削除 "+issueID, func() error {
		return m.tracker.DeleteIssue(ctx, issueID)
	})
}

// run は前回の完了からPaceIntervalを空けて呼び出しを行い、レート制限の場合のみリトライします
func (m *Mutator) run(ctx context.Context, name string, call func() error) MutationResult {
	result := MutationResult{}
	b := newHintBackOff(m.policy)

	operation := func() error {
		if err := m.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		result.Attempts++
		err := call()
		m.rearm(time.Now())
		if err == nil {
			return nil
		}
		if errors.Is(err, models.ErrRateLimited) {
			b.observe(err)
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		result.Waits = append(result.Waits, wait)
		utils.LogWarn("%s: レート制限のため %s 待機します (試行 %d/%d)", name, wait, result.Attempts, m.policy.MaxAttempts)
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(b, ctx), notify, m.timer)
	if err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			err = fmt.Errorf("リトライ上限 (%d回) に達しました: %w", result.Attempts, err)
		}
		result.State = MutationFailed
		result.Err = err
		return result
	}

	result.State = MutationSucceeded
	return result
}

// rearm は呼び出しが完了した時点でトークンを使い切り、
// 次の呼び出しがPaceInterval後まで始まらないようにします
func (m *Mutator) rearm(done time.Time) {
	m.limiter = rate.NewLimiter(m.limit, 1)
	m.limiter.AllowN(done, 1)
}

// hintBackOff はサーバーのRetry-Afterを優先する backoff.BackOff です
type hintBackOff struct {
	defaultWait time.Duration
	buffer      time.Duration
	maxRetries  int
	retries     int
	hint        *time.Duration
}

func newHintBackOff(policy RetryPolicy) *hintBackOff {
	return &hintBackOff{
		defaultWait: policy.DefaultWait,
		buffer:      policy.Buffer,
		maxRetries:  policy.MaxAttempts - 1,
	}
}

// observe は直前のエラーからRetry-Afterを取り出します
func (b *hintBackOff) observe(err error) {
	if d, ok := api.RetryHint(err); ok {
		b.hint = &d
		return
	}
	b.hint = nil
}

func (b *hintBackOff) NextBackOff() time.Duration {
	if b.retries >= b.maxRetries {
		return backoff.Stop
	}
	b.retries++

	wait := b.defaultWait
	if b.hint != nil {
		wait = *b.hint
		b.hint = nil
	}
	return wait + b.buffer
}

func (b *hintBackOff) Reset() {
	b.retries = 0
	b.hint = nil
}
