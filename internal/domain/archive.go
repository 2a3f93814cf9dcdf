package domain

import "time"

// KeyStatus はアーカイブされたCKCのステータスを表す。
type KeyStatus string

const (
	// KeyStatusActive は有効なCKCを表す。
	KeyStatusActive KeyStatus = "active"
	// KeyStatusDisabled は無効化されたCKCを表す。
	KeyStatusDisabled KeyStatus = "disabled"
)

// ArchivedKey はKMSで封印して保存したCKCを表す。
type ArchivedKey struct {
	ID         string
	AssetID    AssetIdentifier
	Generation uint
	RequestID  string
	SealedCKC  []byte
	Status     KeyStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeyMetadata はアーカイブのメタデータを表す（CKCを含まない）。
type KeyMetadata struct {
	AssetID    AssetIdentifier
	Generation uint
	RequestID  string
	Status     KeyStatus
	CreatedAt  time.Time
}

// PersistedKey は復号済みのCKCを表す。
type PersistedKey struct {
	AssetID    AssetIdentifier
	Generation uint
	CKC        []byte
}
