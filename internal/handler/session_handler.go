// Package handler はメディアエンジン向けのHTTPハンドラを提供する。
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"content-key-service/internal/domain"
	"content-key-service/internal/middleware"
	"content-key-service/internal/usecase"
	"content-key-service/pkg/httputil"
)

// RequestLedger は鍵リクエスト台帳の参照インターフェース。
type RequestLedger interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.KeyRequestRecord, error)
}

// Endpoints はセッション作成時に省略されたURLの既定値。
type Endpoints struct {
	CertificateURL string
	LicenseURL     string
}

// SessionHandler はライセンスセッションと鍵リクエストのHTTPハンドラ。
type SessionHandler struct {
	manager   *usecase.SessionManager
	broker    *usecase.SPCBroker
	ledger    RequestLedger
	endpoints Endpoints
}

// NewSessionHandler は新しいSessionHandlerを生成する。ledger は nil でもよい。
func NewSessionHandler(manager *usecase.SessionManager, broker *usecase.SPCBroker, ledger RequestLedger, endpoints Endpoints) *SessionHandler {
	return &SessionHandler{
		manager:   manager,
		broker:    broker,
		ledger:    ledger,
		endpoints: endpoints,
	}
}

// CreateSessionRequest はセッション作成リクエスト。
type CreateSessionRequest struct {
	PlayerID       string `json:"player_id"`
	AssetID        string `json:"asset_id"`
	CertificateURL string `json:"certificate_url"`
	LicenseURL     string `json:"license_url"`
}

// SessionResponse はセッションのレスポンス形式。
type SessionResponse struct {
	SessionID      string `json:"session_id"`
	PlayerID       string `json:"player_id"`
	AssetID        string `json:"asset_id"`
	CertificateURL string `json:"certificate_url"`
	LicenseURL     string `json:"license_url"`
	CreatedAt      string `json:"created_at"`
}

// SubmitKeyRequestRequest は鍵リクエスト受付のリクエスト。
type SubmitKeyRequestRequest struct {
	Locator           string `json:"locator"`
	Kind              string `json:"kind"`
	RetryReason       string `json:"retry_reason"`
	PreviousRequestID string `json:"previous_request_id"`
}

// SPCChallengeResponse はSPC生成待ちのチャレンジ。
type SPCChallengeResponse struct {
	AssetID          string `json:"asset_id"`
	Certificate      string `json:"certificate"`
	ProtocolVersions []int  `json:"protocol_versions"`
}

// KeyErrorResponse は鍵リクエスト失敗の内容。
type KeyErrorResponse struct {
	Kind       string `json:"kind"`
	Failure    string `json:"failure,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

// KeyRequestResponse は鍵リクエストのレスポンス形式。
type KeyRequestResponse struct {
	RequestID         string                `json:"request_id"`
	SessionID         string                `json:"session_id"`
	Locator           string                `json:"locator"`
	Kind              string                `json:"kind"`
	RetryReason       string                `json:"retry_reason,omitempty"`
	PreviousRequestID string                `json:"previous_request_id,omitempty"`
	State             string                `json:"state"`
	AssetID           string                `json:"asset_id,omitempty"`
	Challenge         *SPCChallengeResponse `json:"challenge,omitempty"`
	CKC               string                `json:"ckc,omitempty"`
	Error             *KeyErrorResponse     `json:"error,omitempty"`
	CreatedAt         string                `json:"created_at"`
}

// KeyRequestListResponse は鍵リクエスト一覧のレスポンス形式。
type KeyRequestListResponse struct {
	Requests []KeyRequestResponse `json:"requests"`
}

// DeliverSPCRequest は鍵システムの結果。SPC（base64）かエラーのどちらかを指定する。
type DeliverSPCRequest struct {
	SPC   string `json:"spc"`
	Error string `json:"error"`
}

// FailureReportRequest はメディアエンジンからの失敗通知。
type FailureReportRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// CreateSession はアセットの読み込み開始に合わせてセッションを作成する。
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	asset := domain.PlaybackAsset{
		ID:             req.AssetID,
		CertificateURL: firstNonEmpty(req.CertificateURL, h.endpoints.CertificateURL),
		LicenseURL:     firstNonEmpty(req.LicenseURL, h.endpoints.LicenseURL),
	}

	session, err := h.manager.Load(req.PlayerID, asset)
	if err != nil {
		if errors.Is(err, domain.ErrAssetNotProtected) {
			middleware.WriteAuditLog(r.Context(), "LOAD_SESSION", middleware.ResultFailed, "asset_id", req.AssetID)
			httputil.Error(w, http.StatusUnprocessableEntity, "ASSET_NOT_PROTECTED", "certificate and license URLs are required")
			return
		}
		middleware.WriteAuditLog(r.Context(), "LOAD_SESSION", middleware.ResultFailed, "asset_id", req.AssetID)
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "LOAD_SESSION", middleware.ResultSuccess,
		"session_id", session.ID(), "asset_id", req.AssetID)
	httputil.JSON(w, http.StatusCreated, toSessionResponse(session))
}

// SessionListResponse はセッション一覧のレスポンス形式。
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// ListSessions は管理中のセッション一覧を返す。
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.Sessions()
	response := SessionListResponse{Sessions: make([]SessionResponse, len(sessions))}
	for i, s := range sessions {
		response.Sessions[i] = toSessionResponse(s)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// DeleteSession はセッションを破棄する。
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	abandoned, err := h.manager.Unload(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			httputil.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "UNLOAD_SESSION", middleware.ResultSuccess,
		"session_id", sessionID, "abandoned", abandoned)
	httputil.JSON(w, http.StatusAccepted, map[string]int{"abandoned": abandoned})
}

// SubmitKeyRequest は鍵リクエストを受け付け、非同期に処理を開始する。
func (h *SessionHandler) SubmitKeyRequest(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SubmitKeyRequestRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	kind, err := domain.ParseRequestKind(req.Kind)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST_KIND", "kind must be initial, renewal or retry")
		return
	}

	reason := domain.RetryReason(req.RetryReason)
	if kind == domain.RequestKindRetry && !usecase.ShouldRetry(reason) {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_KEY_REQUEST", middleware.ResultFailed,
			"session_id", session.ID(), "retry_reason", reason)
		httputil.Error(w, http.StatusConflict, "RETRY_NOT_ALLOWED", "retry reason is not eligible for retry")
		return
	}
	if kind != domain.RequestKindRetry {
		reason = ""
	}

	ticket := session.Submit(domain.KeyRequest{
		Locator:           req.Locator,
		Kind:              kind,
		RetryReason:       reason,
		PreviousRequestID: req.PreviousRequestID,
	}, h.broker)

	middleware.WriteAuditLog(r.Context(), "SUBMIT_KEY_REQUEST", middleware.ResultSuccess,
		"session_id", session.ID(), "request_id", ticket.Request().ID, "kind", kind)
	httputil.JSON(w, http.StatusAccepted, h.toKeyRequestResponse(ticket))
}

// GetKeyRequest は鍵リクエストの現在の状態を返す。
func (h *SessionHandler) GetKeyRequest(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	ticket, ok := session.Ticket(chi.URLParam(r, "request_id"))
	if !ok {
		httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "key request not found")
		return
	}
	httputil.JSON(w, http.StatusOK, h.toKeyRequestResponse(ticket))
}

// ListKeyRequests はセッションの鍵リクエスト一覧を返す。
// 台帳があれば台帳から、なければ処理中のセッションから返す。
func (h *SessionHandler) ListKeyRequests(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if h.ledger != nil {
		records, err := h.ledger.ListBySession(r.Context(), sessionID, 0)
		if err != nil {
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			return
		}
		response := KeyRequestListResponse{Requests: make([]KeyRequestResponse, len(records))}
		for i, rec := range records {
			response.Requests[i] = toRecordResponse(rec)
		}
		httputil.JSON(w, http.StatusOK, response)
		return
	}

	session, ok := h.session(w, r)
	if !ok {
		return
	}
	tickets := session.Tickets()
	response := KeyRequestListResponse{Requests: make([]KeyRequestResponse, len(tickets))}
	for i, t := range tickets {
		response.Requests[i] = h.toKeyRequestResponse(t)
	}
	httputil.JSON(w, http.StatusOK, response)
}

// DeliverSPC は鍵システムが生成したSPC（またはエラー）を待機中のリクエストへ渡す。
func (h *SessionHandler) DeliverSPC(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	requestID := chi.URLParam(r, "request_id")
	if _, ok := session.Ticket(requestID); !ok {
		httputil.Error(w, http.StatusNotFound, "REQUEST_NOT_FOUND", "key request not found")
		return
	}

	var req DeliverSPCRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	var spc []byte
	var spcErr error
	if req.Error != "" {
		spcErr = errors.New(req.Error)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(req.SPC)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_SPC", "spc must be base64")
			return
		}
		spc = decoded
	}

	if err := h.broker.Deliver(requestID, spc, spcErr); err != nil {
		if errors.Is(err, domain.ErrNoPendingChallenge) {
			httputil.Error(w, http.StatusConflict, "NO_PENDING_CHALLENGE", "key request is not awaiting an SPC")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ReportFailure はメディアエンジンが検知した失敗を記録する。
func (h *SessionHandler) ReportFailure(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req FailureReportRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil || req.RequestID == "" || req.Reason == "" {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "request_id and reason are required")
		return
	}

	slog.WarnContext(r.Context(), "media engine reported key failure",
		"session_id", session.ID(),
		"request_id", req.RequestID,
		"reason", req.Reason,
		"should_retry", usecase.ShouldRetry(domain.RetryReason(req.Reason)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// RetryDecisionRequest はリトライ判定のリクエスト。
type RetryDecisionRequest struct {
	Reason string `json:"reason"`
}

// RetryDecisionResponse はリトライ判定の結果。
type RetryDecisionResponse struct {
	Reason string `json:"reason"`
	Retry  bool   `json:"retry"`
}

// RetryDecision はリトライ理由に対する判定を返す。
func RetryDecision(w http.ResponseWriter, r *http.Request) {
	var req RetryDecisionRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	httputil.JSON(w, http.StatusOK, RetryDecisionResponse{
		Reason: req.Reason,
		Retry:  usecase.ShouldRetry(domain.RetryReason(req.Reason)),
	})
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*usecase.LicenseSession, bool) {
	session, err := h.manager.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) toKeyRequestResponse(t *usecase.Ticket) KeyRequestResponse {
	req := t.Request()
	resp := KeyRequestResponse{
		RequestID:         req.ID,
		SessionID:         req.SessionID,
		Locator:           req.Locator,
		Kind:              string(req.Kind),
		RetryReason:       string(req.RetryReason),
		PreviousRequestID: req.PreviousRequestID,
		State:             string(t.State()),
		AssetID:           string(t.AssetID()),
		CreatedAt:         req.CreatedAt.Format(time.RFC3339),
	}

	if res, done := t.Result(); done {
		resp.State = string(t.State())
		if res.Succeeded() {
			resp.CKC = base64.StdEncoding.EncodeToString(res.CKC)
		} else {
			resp.Error = toKeyErrorResponse(res.Err)
		}
		return resp
	}

	if c, ok := h.broker.Challenge(req.ID); ok {
		resp.Challenge = &SPCChallengeResponse{
			AssetID:          string(c.AssetID),
			Certificate:      base64.StdEncoding.EncodeToString(c.Certificate),
			ProtocolVersions: c.ProtocolVersions,
		}
	}
	return resp
}

func toKeyErrorResponse(err error) *KeyErrorResponse {
	resp := &KeyErrorResponse{Message: err.Error()}
	if ke := domain.AsKeyError(err); ke != nil {
		resp.Kind = string(ke.Kind)
		resp.Failure = string(ke.Failure)
		resp.StatusCode = ke.StatusCode
	}
	return resp
}

func toRecordResponse(rec *domain.KeyRequestRecord) KeyRequestResponse {
	resp := KeyRequestResponse{
		RequestID:         rec.ID,
		SessionID:         rec.SessionID,
		Locator:           rec.Locator,
		Kind:              string(rec.Kind),
		RetryReason:       string(rec.RetryReason),
		PreviousRequestID: rec.PreviousRequestID,
		State:             string(rec.State),
		AssetID:           string(rec.AssetID),
		CreatedAt:         rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.ErrorKind != "" {
		resp.Error = &KeyErrorResponse{
			Kind:       string(rec.ErrorKind),
			Failure:    string(rec.Failure),
			StatusCode: rec.StatusCode,
			Message:    string(rec.ErrorKind),
		}
	}
	return resp
}

func toSessionResponse(s *usecase.LicenseSession) SessionResponse {
	asset := s.Asset()
	return SessionResponse{
		SessionID:      s.ID(),
		PlayerID:       s.PlayerID(),
		AssetID:        asset.ID,
		CertificateURL: asset.CertificateURL,
		LicenseURL:     asset.LicenseURL,
		CreatedAt:      s.CreatedAt().Format(time.RFC3339),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
