package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLocator はロケーターからアセットIDを導出できない場合のエラー。
	ErrMalformedLocator = errors.New("malformed locator")

	// ErrCertificateUnavailable はアプリケーション証明書を取得できない場合のエラー。
	ErrCertificateUnavailable = errors.New("application certificate unavailable")

	// ErrSPCGenerationFailed は鍵システムがSPCを生成できなかった場合のエラー。
	ErrSPCGenerationFailed = errors.New("SPC generation failed")

	// ErrLicenseExchangeFailed はSPCとCKCの交換に失敗した場合のエラー。
	ErrLicenseExchangeFailed = errors.New("license exchange failed")

	// ErrSessionTornDown はライセンスセッションが破棄された場合のエラー。
	ErrSessionTornDown = errors.New("license session torn down")

	// ErrTransport は通信そのものが失敗した場合のエラー。
	ErrTransport = errors.New("transport error")

	// ErrNonSuccessStatus はライセンスサーバーが2xx以外を返した場合のエラー。
	ErrNonSuccessStatus = errors.New("non-success status")

	// ErrEmptyBody は2xxだがCKCが空の場合のエラー。
	ErrEmptyBody = errors.New("no key returned")

	// ErrSessionNotFound は指定されたセッションが存在しない場合のエラー。
	ErrSessionNotFound = errors.New("session not found")

	// ErrRequestNotFound は指定された鍵リクエストが存在しない場合のエラー。
	ErrRequestNotFound = errors.New("key request not found")

	// ErrAssetNotProtected はアセットに証明書URLまたはライセンスURLがない場合のエラー。
	ErrAssetNotProtected = errors.New("asset is not protected")

	// ErrNoPendingChallenge はSPCを待っていないリクエストにSPCが届いた場合のエラー。
	ErrNoPendingChallenge = errors.New("no pending SPC challenge")

	// ErrRetryNotAllowed はリトライ理由がリトライ対象外の場合のエラー。
	ErrRetryNotAllowed = errors.New("retry not allowed for reason")

	// ErrInvalidRequestKind はリクエスト種別が不正な場合のエラー。
	ErrInvalidRequestKind = errors.New("invalid request kind")

	// ErrKeyNotFound は指定されたアセット・世代のCKCがアーカイブに存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyDisabled は指定されたCKCが無効化されている場合のエラー。
	ErrKeyDisabled = errors.New("key is disabled")

	// ErrKeyAlreadyDisabled は指定されたCKCが既に無効化されている場合のエラー。
	ErrKeyAlreadyDisabled = errors.New("key is already disabled")

	// ErrInvalidGeneration は世代番号が不正な場合のエラー。
	ErrInvalidGeneration = errors.New("invalid generation")

	// ErrGenerationConflict は同じ世代番号が既に割り当て済みの場合のエラー。
	ErrGenerationConflict = errors.New("generation already allocated")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// ErrorKind は鍵リクエストの終端失敗の分類。
type ErrorKind string

const (
	ErrorKindMalformedLocator       ErrorKind = "MALFORMED_LOCATOR"
	ErrorKindCertificateUnavailable ErrorKind = "CERTIFICATE_UNAVAILABLE"
	ErrorKindSPCGenerationFailed    ErrorKind = "SPC_GENERATION_FAILED"
	ErrorKindLicenseExchangeFailed  ErrorKind = "LICENSE_EXCHANGE_FAILED"
	ErrorKindSessionTornDown        ErrorKind = "SESSION_TORN_DOWN"
)

// ExchangeFailure はライセンス交換失敗の原因。
type ExchangeFailure string

const (
	ExchangeFailureTransport        ExchangeFailure = "TRANSPORT_ERROR"
	ExchangeFailureNonSuccessStatus ExchangeFailure = "NON_SUCCESS_STATUS"
	ExchangeFailureEmptyBody        ExchangeFailure = "EMPTY_BODY"
)

// KeyError はメディアエンジンへ返す型付きエラー。
// Failure と StatusCode は LicenseExchangeFailed（証明書取得失敗時はStatusCodeのみ）で設定される。
type KeyError struct {
	Kind       ErrorKind
	Failure    ExchangeFailure
	StatusCode int
	Err        error
}

func (e *KeyError) Error() string {
	msg := string(e.Kind)
	if e.Failure != "" {
		msg += "/" + string(e.Failure)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// Is はエラー種別・失敗原因に対応するセンチネルエラーと一致させる。
func (e *KeyError) Is(target error) bool {
	switch target {
	case ErrMalformedLocator:
		return e.Kind == ErrorKindMalformedLocator
	case ErrCertificateUnavailable:
		return e.Kind == ErrorKindCertificateUnavailable
	case ErrSPCGenerationFailed:
		return e.Kind == ErrorKindSPCGenerationFailed
	case ErrLicenseExchangeFailed:
		return e.Kind == ErrorKindLicenseExchangeFailed
	case ErrSessionTornDown:
		return e.Kind == ErrorKindSessionTornDown
	case ErrTransport:
		return e.Failure == ExchangeFailureTransport
	case ErrNonSuccessStatus:
		return e.Failure == ExchangeFailureNonSuccessStatus
	case ErrEmptyBody:
		return e.Failure == ExchangeFailureEmptyBody
	}
	return false
}

// NewKeyError は原因エラーを包んだKeyErrorを生成する。
func NewKeyError(kind ErrorKind, err error) *KeyError {
	return &KeyError{Kind: kind, Err: err}
}

// NewExchangeError はライセンス交換失敗のKeyErrorを生成する。
func NewExchangeError(failure ExchangeFailure, statusCode int, err error) *KeyError {
	return &KeyError{
		Kind:       ErrorKindLicenseExchangeFailed,
		Failure:    failure,
		StatusCode: statusCode,
		Err:        err,
	}
}

// AsKeyError はエラーをKeyErrorとして取り出す。KeyErrorでなければ nil を返す。
func AsKeyError(err error) *KeyError {
	var ke *KeyError
	if errors.As(err, &ke) {
		return ke
	}
	return nil
}
