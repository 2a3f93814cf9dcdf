// Package migrations は台帳とCKCアーカイブのスキーマ定義を埋め込む。
package migrations

import "embed"

// FS は番号付きのSQLファイル群。
//
//go:embed *.sql
var FS embed.FS
