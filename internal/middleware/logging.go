// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// 監査ログの結果。
const (
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// WriteAuditLog は監査ログを出力する。attrs にはセッションIDやアセットIDなど操作対象を渡す。
func WriteAuditLog(ctx context.Context, operation, result string, attrs ...any) {
	args := append([]any{
		"operation", operation,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	}, attrs...)
	slog.InfoContext(ctx, "audit", args...)
}
