package usecase

import "content-key-service/internal/domain"

// ShouldRetry はメディアエンジンが通知したリトライ理由に対し、再送すべきかを返す。
// 未知の理由はリトライしない。
func ShouldRetry(reason domain.RetryReason) bool {
	switch reason {
	case domain.RetryReasonTimedOut,
		domain.RetryReasonExpiredLeaseReceived,
		domain.RetryReasonObsoleteKeyReceived:
		return true
	default:
		return false
	}
}
