package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeList は一覧系APIのレスポンスを配列に正規化します。
// Planeはエンドポイントやページ指定の有無によって、配列そのものか
// {"results": [...]} 形式のどちらかを返します。
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []T{}, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("レスポンス解析エラー: %w", err)
	}

	raw, ok := envelope["results"]
	if !ok {
		return nil, fmt.Errorf("レスポンスに results がありません")
	}

	items := []T{}
	if string(bytes.TrimSpace(raw)) == "null" {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("results 解析エラー: %w", err)
	}
	return items, nil
}
