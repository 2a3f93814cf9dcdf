package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"content-key-service/internal/domain"
)

// KeyRequestModel は key_requests テーブルのモデル。
type KeyRequestModel struct {
	ID                string    `gorm:"type:char(36);primaryKey"`
	SessionID         string    `gorm:"type:char(36);not null;index:idx_key_requests_session_id"`
	Locator           string    `gorm:"type:varchar(2048);not null"`
	Kind              string    `gorm:"type:varchar(16);not null"`
	RetryReason       string    `gorm:"type:varchar(32);not null;default:''"`
	PreviousRequestID string    `gorm:"type:varchar(36);not null;default:''"`
	AssetID           string    `gorm:"type:varchar(255);not null;default:''"`
	State             string    `gorm:"type:varchar(32);not null"`
	ErrorKind         string    `gorm:"type:varchar(32);not null;default:''"`
	Failure           string    `gorm:"type:varchar(32);not null;default:''"`
	StatusCode        int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (KeyRequestModel) TableName() string {
	return "key_requests"
}

func (m *KeyRequestModel) toDomain() *domain.KeyRequestRecord {
	return &domain.KeyRequestRecord{
		ID:                m.ID,
		SessionID:         m.SessionID,
		Locator:           m.Locator,
		Kind:              domain.RequestKind(m.Kind),
		RetryReason:       domain.RetryReason(m.RetryReason),
		PreviousRequestID: m.PreviousRequestID,
		AssetID:           domain.AssetIdentifier(m.AssetID),
		State:             domain.RequestState(m.State),
		ErrorKind:         domain.ErrorKind(m.ErrorKind),
		Failure:           domain.ExchangeFailure(m.Failure),
		StatusCode:        m.StatusCode,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// KeyRequestRepository は鍵リクエスト台帳を提供する。
type KeyRequestRepository struct {
	db *gorm.DB
}

// NewKeyRequestRepository は新しいKeyRequestRepositoryを生成する。
func NewKeyRequestRepository(db *gorm.DB) *KeyRequestRepository {
	return &KeyRequestRepository{db: db}
}

var terminalStates = []string{string(domain.StateResolved), string(domain.StateFailed)}

// RecordTransition は状態遷移を台帳に反映する。
// 遷移元が空の場合は新規行を作成し、それ以外は状態と失敗情報を更新する。
func (r *KeyRequestRepository) RecordTransition(ctx context.Context, t domain.Transition) error {
	if t.From == "" {
		model := &KeyRequestModel{
			ID:                t.Request.ID,
			SessionID:         t.Request.SessionID,
			Locator:           t.Request.Locator,
			Kind:              string(t.Request.Kind),
			RetryReason:       string(t.Request.RetryReason),
			PreviousRequestID: t.Request.PreviousRequestID,
			AssetID:           string(t.AssetID),
			State:             string(t.To),
			CreatedAt:         t.Timestamp,
			UpdatedAt:         t.Timestamp,
		}
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			slog.ErrorContext(ctx, "failed to create key request",
				"operation", "record_transition",
				"request_id", t.Request.ID,
				"error", err,
			)
			return err
		}
		return nil
	}

	updates := map[string]any{
		"state":      string(t.To),
		"asset_id":   string(t.AssetID),
		"updated_at": t.Timestamp,
	}
	if ke := domain.AsKeyError(t.Err); ke != nil {
		updates["error_kind"] = string(ke.Kind)
		updates["failure"] = string(ke.Failure)
		updates["status_code"] = ke.StatusCode
	}
	// 終端状態の行は上書きしない
	err := r.db.WithContext(ctx).
		Model(&KeyRequestModel{}).
		Where("id = ? AND state NOT IN ?", t.Request.ID, terminalStates).
		Updates(updates).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update key request",
			"operation", "record_transition",
			"request_id", t.Request.ID,
			"to", t.To,
			"error", err,
		)
		return err
	}
	return nil
}

// FindByID は指定IDの鍵リクエストを取得する。
func (r *KeyRequestRepository) FindByID(ctx context.Context, id string) (*domain.KeyRequestRecord, error) {
	var model KeyRequestModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		slog.ErrorContext(ctx, "failed to find key request",
			"operation", "find_by_id",
			"request_id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ListBySession は指定セッションの鍵リクエストを作成順に取得する。
// sessionID が空なら全件を返す。
func (r *KeyRequestRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.KeyRequestRecord, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []KeyRequestModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list key requests",
			"operation", "list_by_session",
			"session_id", sessionID,
			"error", err,
		)
		return nil, err
	}

	records := make([]*domain.KeyRequestRecord, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}
