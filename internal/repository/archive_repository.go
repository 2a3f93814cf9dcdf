// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"content-key-service/internal/domain"
)

// ArchivedKeyModel はgorm用のモデル定義。
type ArchivedKeyModel struct {
	ID         string    `gorm:"type:char(36);primaryKey"`
	AssetID    string    `gorm:"type:varchar(255);not null;uniqueIndex:uk_archived_keys_asset_generation;index:idx_archived_keys_asset_status"`
	Generation uint      `gorm:"not null;uniqueIndex:uk_archived_keys_asset_generation"`
	RequestID  string    `gorm:"type:char(36);not null"`
	SealedCKC  []byte    `gorm:"column:sealed_ckc;type:blob;not null"`
	Status     string    `gorm:"type:varchar(16);not null;default:'active';index:idx_archived_keys_asset_status"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (ArchivedKeyModel) TableName() string {
	return "archived_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ArchivedKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *ArchivedKeyModel) toDomain() *domain.ArchivedKey {
	return &domain.ArchivedKey{
		ID:         m.ID,
		AssetID:    domain.AssetIdentifier(m.AssetID),
		Generation: m.Generation,
		RequestID:  m.RequestID,
		SealedCKC:  m.SealedCKC,
		Status:     domain.KeyStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// ArchiveRepository は封印済みCKCの永続化を提供する。
type ArchiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository は新しいArchiveRepositoryを生成する。
func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// Create は封印済みCKCを指定された世代で保存する。
// 世代が既に存在する場合は domain.ErrGenerationConflict を返す。
func (r *ArchiveRepository) Create(ctx context.Context, key *domain.ArchivedKey) error {
	return insertArchivedKey(ctx, r.db.WithContext(ctx), key)
}

// CreateNextGeneration は最大世代+1を割り当てて封印済みCKCを保存する。
// 世代の読み取りと作成は同一トランザクションで行い、読み取りは行ロックを取る。
// 同時作成で世代が衝突した場合は domain.ErrGenerationConflict を返す。
func (r *ArchiveRepository) CreateNextGeneration(ctx context.Context, key *domain.ArchivedKey) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		maxGen, err := maxGeneration(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), key.AssetID)
		if err != nil {
			return err
		}
		key.Generation = maxGen + 1
		return insertArchivedKey(ctx, tx, key)
	})
}

func insertArchivedKey(ctx context.Context, db *gorm.DB, key *domain.ArchivedKey) error {
	model := &ArchivedKeyModel{
		ID:         key.ID,
		AssetID:    string(key.AssetID),
		Generation: key.Generation,
		RequestID:  key.RequestID,
		SealedCKC:  key.SealedCKC,
		Status:     string(key.Status),
	}
	if err := db.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: asset %s generation %d", domain.ErrGenerationConflict, key.AssetID, key.Generation)
		}
		slog.ErrorContext(ctx, "failed to create archived key",
			"operation", "create",
			"asset_id", key.AssetID,
			"generation", key.Generation,
			"error", err,
		)
		return err
	}
	key.ID = model.ID
	key.CreatedAt = model.CreatedAt
	key.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByAssetIDAndGeneration は指定アセット・世代のCKCを取得する。存在しなければ nil を返す。
func (r *ArchiveRepository) FindByAssetIDAndGeneration(ctx context.Context, assetID domain.AssetIdentifier, generation uint) (*domain.ArchivedKey, error) {
	var model ArchivedKeyModel
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND generation = ?", string(assetID), generation).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find archived key",
			"operation", "find_by_asset_id_and_generation",
			"asset_id", assetID,
			"generation", generation,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindLatestActiveByAssetID は指定アセットの最新の有効なCKCを取得する。
func (r *ArchiveRepository) FindLatestActiveByAssetID(ctx context.Context, assetID domain.AssetIdentifier) (*domain.ArchivedKey, error) {
	var model ArchivedKeyModel
	err := r.db.WithContext(ctx).
		Where("asset_id = ? AND status = ?", string(assetID), string(domain.KeyStatusActive)).
		Order("generation DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find latest active archived key",
			"operation", "find_latest_active_by_asset_id",
			"asset_id", assetID,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindAllByAssetID は指定アセットの全世代を世代順に取得する。
func (r *ArchiveRepository) FindAllByAssetID(ctx context.Context, assetID domain.AssetIdentifier) ([]*domain.ArchivedKey, error) {
	var models []ArchivedKeyModel
	err := r.db.WithContext(ctx).
		Where("asset_id = ?", string(assetID)).
		Order("generation ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find archived keys",
			"operation", "find_all_by_asset_id",
			"asset_id", assetID,
			"error", err,
		)
		return nil, err
	}

	keys := make([]*domain.ArchivedKey, len(models))
	for i := range models {
		keys[i] = models[i].toDomain()
	}
	return keys, nil
}

// GetMaxGeneration は指定アセットの最大世代番号を返す。未保存なら 0。
func (r *ArchiveRepository) GetMaxGeneration(ctx context.Context, assetID domain.AssetIdentifier) (uint, error) {
	return maxGeneration(ctx, r.db.WithContext(ctx), assetID)
}

func maxGeneration(ctx context.Context, db *gorm.DB, assetID domain.AssetIdentifier) (uint, error) {
	var maxGen *uint
	err := db.
		Model(&ArchivedKeyModel{}).
		Where("asset_id = ?", string(assetID)).
		Select("MAX(generation)").
		Scan(&maxGen).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to get max generation",
			"operation", "get_max_generation",
			"asset_id", assetID,
			"error", err,
		)
		return 0, err
	}
	if maxGen == nil {
		return 0, nil
	}
	return *maxGen, nil
}

// UpdateStatus は指定IDのステータスを更新する。
func (r *ArchiveRepository) UpdateStatus(ctx context.Context, id string, status domain.KeyStatus) error {
	err := r.db.WithContext(ctx).
		Model(&ArchivedKeyModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to update status",
			"operation", "update_status",
			"id", id,
			"status", status,
			"error", err,
		)
		return err
	}
	return nil
}
