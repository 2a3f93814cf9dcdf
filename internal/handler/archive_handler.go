package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"content-key-service/internal/domain"
	"content-key-service/internal/middleware"
	"content-key-service/internal/usecase"
	"content-key-service/pkg/httputil"
)

// ArchiveHandler は保存済みCKCのHTTPハンドラ。
type ArchiveHandler struct {
	archive *usecase.KeyArchive
}

// NewArchiveHandler は新しいArchiveHandlerを生成する。
func NewArchiveHandler(archive *usecase.KeyArchive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

func validateAssetID(assetID string) error {
	if assetID == "" || len(assetID) > 255 {
		return domain.ErrMalformedLocator
	}
	return nil
}

func validateGeneration(genStr string) (uint, error) {
	gen, err := strconv.ParseUint(genStr, 10, 32)
	if err != nil || gen < 1 {
		return 0, domain.ErrInvalidGeneration
	}
	return uint(gen), nil
}

// KeyMetadataResponse はCKCメタデータのレスポンス形式。
type KeyMetadataResponse struct {
	AssetID    string `json:"asset_id"`
	Generation uint   `json:"generation"`
	RequestID  string `json:"request_id"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// KeyResponse は開封済みCKCのレスポンス形式。
type KeyResponse struct {
	AssetID    string `json:"asset_id"`
	Generation uint   `json:"generation"`
	CKC        string `json:"ckc"`
}

// KeyListResponse はCKC一覧のレスポンス形式。
type KeyListResponse struct {
	Keys []KeyMetadataResponse `json:"keys"`
}

// ListKeys はアセットの全世代のメタデータを返す。
func (h *ArchiveHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")
	if err := validateAssetID(assetID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ASSET_ID", "invalid asset ID")
		return
	}

	keys, err := h.archive.ListKeys(r.Context(), domain.AssetIdentifier(assetID))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LIST_KEYS", middleware.ResultFailed, "asset_id", assetID)
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "LIST_KEYS", middleware.ResultSuccess, "asset_id", assetID)
	response := KeyListResponse{Keys: make([]KeyMetadataResponse, len(keys))}
	for i, k := range keys {
		response.Keys[i] = KeyMetadataResponse{
			AssetID:    string(k.AssetID),
			Generation: k.Generation,
			RequestID:  k.RequestID,
			Status:     string(k.Status),
			CreatedAt:  k.CreatedAt.Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, response)
}

// GetCurrentKey はアセットの最新の有効なCKCを返す。
func (h *ArchiveHandler) GetCurrentKey(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")
	if err := validateAssetID(assetID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ASSET_ID", "invalid asset ID")
		return
	}

	key, err := h.archive.GetCurrentKey(r.Context(), domain.AssetIdentifier(assetID))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_CURRENT_KEY", middleware.ResultFailed, "asset_id", assetID)
		if errors.Is(err, domain.ErrKeyNotFound) {
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "no key archived for this asset")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_CURRENT_KEY", middleware.ResultSuccess,
		"asset_id", assetID, "generation", key.Generation)
	httputil.JSON(w, http.StatusOK, toKeyResponse(key))
}

// GetKeyByGeneration は指定世代のCKCを返す。
func (h *ArchiveHandler) GetKeyByGeneration(w http.ResponseWriter, r *http.Request) {
	assetID, generation, ok := assetAndGeneration(w, r)
	if !ok {
		return
	}

	key, err := h.archive.GetKeyByGeneration(r.Context(), domain.AssetIdentifier(assetID), generation)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "GET_KEY_BY_GENERATION", middleware.ResultFailed,
			"asset_id", assetID, "generation", generation)
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found for this asset and generation")
		case errors.Is(err, domain.ErrKeyDisabled):
			httputil.Error(w, http.StatusGone, "KEY_DISABLED", "key has been disabled")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "GET_KEY_BY_GENERATION", middleware.ResultSuccess,
		"asset_id", assetID, "generation", generation)
	httputil.JSON(w, http.StatusOK, toKeyResponse(key))
}

// DisableKey は指定世代のCKCを無効化する。
func (h *ArchiveHandler) DisableKey(w http.ResponseWriter, r *http.Request) {
	assetID, generation, ok := assetAndGeneration(w, r)
	if !ok {
		return
	}

	err := h.archive.DisableKey(r.Context(), domain.AssetIdentifier(assetID), generation)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "DISABLE_KEY", middleware.ResultFailed,
			"asset_id", assetID, "generation", generation)
		switch {
		case errors.Is(err, domain.ErrKeyNotFound):
			httputil.Error(w, http.StatusNotFound, "KEY_NOT_FOUND", "key not found for this asset and generation")
		case errors.Is(err, domain.ErrKeyAlreadyDisabled):
			httputil.Error(w, http.StatusConflict, "KEY_ALREADY_DISABLED", "key is already disabled")
		default:
			httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return
	}

	middleware.WriteAuditLog(r.Context(), "DISABLE_KEY", middleware.ResultSuccess,
		"asset_id", assetID, "generation", generation)
	w.WriteHeader(http.StatusAccepted)
}

func assetAndGeneration(w http.ResponseWriter, r *http.Request) (string, uint, bool) {
	assetID := chi.URLParam(r, "asset_id")
	if err := validateAssetID(assetID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_ASSET_ID", "invalid asset ID")
		return "", 0, false
	}
	generation, err := validateGeneration(chi.URLParam(r, "generation"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_GENERATION", "invalid generation number")
		return "", 0, false
	}
	return assetID, generation, true
}

func toKeyResponse(k *domain.PersistedKey) KeyResponse {
	return KeyResponse{
		AssetID:    string(k.AssetID),
		Generation: k.Generation,
		CKC:        base64.StdEncoding.EncodeToString(k.CKC),
	}
}
