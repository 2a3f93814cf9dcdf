package domain

import "time"

// MigrationStatus はスキーママイグレーションの適用状態
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration は鍵リクエスト台帳・アーカイブ用のスキーマ変更1件
type Migration struct {
	Version   string // 例: "001"
	Name      string // ファイル名から抽出（例: create_key_requests）
	FilePath  string
	AppliedAt *time.Time // 未適用ならnil
	Status    MigrationStatus
}
