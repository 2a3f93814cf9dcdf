package usecase

import (
	"context"
	"errors"
	"fmt"

	"content-key-service/internal/domain"
)

// ArchiveRepository はCKCアーカイブのデータアクセスのインターフェース。
type ArchiveRepository interface {
	CreateNextGeneration(ctx context.Context, key *domain.ArchivedKey) error
	FindByAssetIDAndGeneration(ctx context.Context, assetID domain.AssetIdentifier, generation uint) (*domain.ArchivedKey, error)
	FindLatestActiveByAssetID(ctx context.Context, assetID domain.AssetIdentifier) (*domain.ArchivedKey, error)
	FindAllByAssetID(ctx context.Context, assetID domain.AssetIdentifier) ([]*domain.ArchivedKey, error)
	UpdateStatus(ctx context.Context, id string, status domain.KeyStatus) error
}

// Sealer は封印/開封のインターフェース。
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KeyArchive は取得済みCKCの保管に関するビジネスロジックを提供する。
type KeyArchive struct {
	repo   ArchiveRepository
	sealer Sealer
}

// NewKeyArchive は新しいKeyArchiveを生成する。
func NewKeyArchive(repo ArchiveRepository, sealer Sealer) *KeyArchive {
	return &KeyArchive{
		repo:   repo,
		sealer: sealer,
	}
}

// archiveAttempts は世代衝突時に保存を試みる回数。
const archiveAttempts = 3

// Archive はCKCを封印し、アセットの次の世代として保存する。
// 同時保存で世代が衝突した場合は世代を取り直して再試行する。
func (a *KeyArchive) Archive(ctx context.Context, assetID domain.AssetIdentifier, requestID string, ckc []byte) (*domain.KeyMetadata, error) {
	if len(ckc) == 0 {
		return nil, errors.New("empty CKC")
	}

	sealed, err := a.sealer.Encrypt(ctx, ckc)
	if err != nil {
		return nil, fmt.Errorf("sealing ckc: %w", err)
	}

	for attempt := 1; ; attempt++ {
		key := &domain.ArchivedKey{
			AssetID:   assetID,
			RequestID: requestID,
			SealedCKC: sealed,
			Status:    domain.KeyStatusActive,
		}
		err := a.repo.CreateNextGeneration(ctx, key)
		if err == nil {
			return toMetadata(key), nil
		}
		if !errors.Is(err, domain.ErrGenerationConflict) || attempt >= archiveAttempts {
			return nil, fmt.Errorf("creating archived key: %w", err)
		}
	}
}

// GetCurrentKey は指定アセットの最新の有効なCKCを開封して返す。
func (a *KeyArchive) GetCurrentKey(ctx context.Context, assetID domain.AssetIdentifier) (*domain.PersistedKey, error) {
	key, err := a.repo.FindLatestActiveByAssetID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("finding current key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}
	return a.open(ctx, key)
}

// GetKeyByGeneration は指定アセット・世代のCKCを開封して返す。
func (a *KeyArchive) GetKeyByGeneration(ctx context.Context, assetID domain.AssetIdentifier, generation uint) (*domain.PersistedKey, error) {
	key, err := a.repo.FindByAssetIDAndGeneration(ctx, assetID, generation)
	if err != nil {
		return nil, fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return nil, domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusDisabled {
		return nil, domain.ErrKeyDisabled
	}
	return a.open(ctx, key)
}

// ListKeys は指定アセットの全世代のメタデータを返す。
func (a *KeyArchive) ListKeys(ctx context.Context, assetID domain.AssetIdentifier) ([]*domain.KeyMetadata, error) {
	keys, err := a.repo.FindAllByAssetID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("finding keys: %w", err)
	}

	metadata := make([]*domain.KeyMetadata, len(keys))
	for i, k := range keys {
		metadata[i] = toMetadata(k)
	}
	return metadata, nil
}

// DisableKey は指定アセット・世代のCKCを無効化する。
func (a *KeyArchive) DisableKey(ctx context.Context, assetID domain.AssetIdentifier, generation uint) error {
	key, err := a.repo.FindByAssetIDAndGeneration(ctx, assetID, generation)
	if err != nil {
		return fmt.Errorf("finding key: %w", err)
	}
	if key == nil {
		return domain.ErrKeyNotFound
	}
	if key.Status == domain.KeyStatusDisabled {
		return domain.ErrKeyAlreadyDisabled
	}

	if err := a.repo.UpdateStatus(ctx, key.ID, domain.KeyStatusDisabled); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

func (a *KeyArchive) open(ctx context.Context, key *domain.ArchivedKey) (*domain.PersistedKey, error) {
	ckc, err := a.sealer.Decrypt(ctx, key.SealedCKC)
	if err != nil {
		return nil, fmt.Errorf("opening ckc: %w", err)
	}
	return &domain.PersistedKey{
		AssetID:    key.AssetID,
		Generation: key.Generation,
		CKC:        ckc,
	}, nil
}

func toMetadata(k *domain.ArchivedKey) *domain.KeyMetadata {
	return &domain.KeyMetadata{
		AssetID:    k.AssetID,
		Generation: k.Generation,
		RequestID:  k.RequestID,
		Status:     k.Status,
		CreatedAt:  k.CreatedAt,
	}
}
