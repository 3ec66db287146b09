package models

import (
	"errors"
	"fmt"
)

// エラー種別
var (
	ErrParse           = errors.New("parse_error")
	ErrUnmappableState = errors.New("unmappable_state")
	ErrMissingParent   = errors.New("missing_parent")
	ErrDuplicateID     = errors.New("duplicate_id")
	ErrRateLimited     = errors.New("rate_limited")
	ErrValidation      = errors.New("validation_error")
	ErrAuth            = errors.New("auth_error")
	ErrNetwork         = errors.New("network_error")
)

var errorKinds = []error{
	ErrParse,
	ErrUnmappableState,
	ErrMissingParent,
	ErrDuplicateID,
	ErrRateLimited,
	ErrValidation,
	ErrAuth,
	ErrNetwork,
}

// KindOf はエラーの種別名を返します。該当しない場合は "unknown" です
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "unknown"
}

// ParseError はCSVの不正な行を表します
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("行 %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
