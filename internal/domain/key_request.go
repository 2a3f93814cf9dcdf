// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// RequestKind は鍵リクエストの種別を表す。
type RequestKind string

const (
	// RequestKindInitial は再生開始時の最初のリクエスト。
	RequestKindInitial RequestKind = "initial"
	// RequestKindRenewal は鍵の有効期限切れに伴う更新リクエスト。
	RequestKindRenewal RequestKind = "renewal"
	// RequestKindRetry はメディアエンジンが再送したリクエスト。
	RequestKindRetry RequestKind = "retry"
)

// ParseRequestKind は文字列をRequestKindに変換する。空文字はinitialとして扱う。
func ParseRequestKind(s string) (RequestKind, error) {
	switch RequestKind(s) {
	case "", RequestKindInitial:
		return RequestKindInitial, nil
	case RequestKindRenewal:
		return RequestKindRenewal, nil
	case RequestKindRetry:
		return RequestKindRetry, nil
	}
	return "", ErrInvalidRequestKind
}

// RetryReason はメディアエンジンが通知するリトライ理由。
type RetryReason string

const (
	RetryReasonTimedOut             RetryReason = "timed_out"
	RetryReasonExpiredLeaseReceived RetryReason = "expired_lease_received"
	RetryReasonObsoleteKeyReceived  RetryReason = "obsolete_key_received"
)

// RequestState は鍵リクエストの状態。
type RequestState string

const (
	StateCreated             RequestState = "created"
	StateResolvingAssetID    RequestState = "resolving_asset_id"
	StateFetchingCertificate RequestState = "fetching_certificate"
	StateAwaitingSPC         RequestState = "awaiting_spc"
	StateExchangingLicense   RequestState = "exchanging_license"
	StateResolved            RequestState = "resolved"
	StateFailed              RequestState = "failed"
)

// IsTerminal は状態が終端かどうかを返す。
func (s RequestState) IsTerminal() bool {
	return s == StateResolved || s == StateFailed
}

// AssetIdentifier はプロバイダー固有のアセットID。
type AssetIdentifier string

// ApplicationCertificate は証明書エンドポイントから取得した不透明なバイト列。
type ApplicationCertificate []byte

// KeyRequest は1件の鍵取得要求を表す。
type KeyRequest struct {
	ID                string
	SessionID         string
	Locator           string
	Kind              RequestKind
	RetryReason       RetryReason // Kind が retry の場合のみ
	PreviousRequestID string      // 再送元のリクエストID（任意）
	CreatedAt         time.Time
}

// PlaybackAsset は再生対象のアセットと、そのDRMエンドポイント。
type PlaybackAsset struct {
	ID             string
	CertificateURL string
	LicenseURL     string
}

// IsProtected は証明書URLとライセンスURLの両方を持つかどうかを返す。
func (a PlaybackAsset) IsProtected() bool {
	return a.CertificateURL != "" && a.LicenseURL != ""
}

// ExchangeResult は鍵リクエストの最終結果。CKCとErrのどちらか一方のみが設定される。
type ExchangeResult struct {
	CKC []byte
	Err error
}

// Succeeded はCKCの取得に成功したかどうかを返す。
func (r ExchangeResult) Succeeded() bool {
	return r.Err == nil
}

// Success は成功結果を生成する。
func Success(ckc []byte) ExchangeResult {
	return ExchangeResult{CKC: ckc}
}

// Failure は失敗結果を生成する。
func Failure(err error) ExchangeResult {
	return ExchangeResult{Err: err}
}

// Transition は鍵リクエストの状態遷移の記録。
type Transition struct {
	Request   KeyRequest
	AssetID   AssetIdentifier
	From      RequestState
	To        RequestState
	Err       error
	Timestamp time.Time
}

// KeyRequestRecord は台帳に保存された鍵リクエスト。
type KeyRequestRecord struct {
	ID                string
	SessionID         string
	Locator           string
	Kind              RequestKind
	RetryReason       RetryReason
	PreviousRequestID string
	AssetID           AssetIdentifier
	State             RequestState
	ErrorKind         ErrorKind
	Failure           ExchangeFailure
	StatusCode        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
