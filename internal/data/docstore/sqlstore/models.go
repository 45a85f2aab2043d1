package sqlstore

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentRow holds one document. Version is bumped on every update and is
// the compare-and-set guard for concurrent writers.
type DocumentRow struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Collection string         `gorm:"column:collection;size:64;not null;index" json:"collection"`
	Version    int64          `gorm:"column:version;not null;default:0" json:"version"`
	Body       datatypes.JSON `gorm:"column:body;not null" json:"body"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
}

func (DocumentRow) TableName() string { return "document" }

// KeyRow materializes one index entry of a document. UniqueKey is only set
// for unique indexes; NULLs never collide, so one table serves both kinds.
type KeyRow struct {
	ID         uint64   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint64   `gorm:"column:document_id;not null;index" json:"document_id"`
	Collection string   `gorm:"column:collection;size:64;not null;index:idx_document_key_lookup,priority:1" json:"collection"`
	IndexName  string   `gorm:"column:index_name;size:128;not null;index:idx_document_key_lookup,priority:2" json:"index_name"`
	Key        string   `gorm:"column:index_key;type:text;not null;index:idx_document_key_lookup,priority:3" json:"key"`
	Num        *float64 `gorm:"column:num;index" json:"num,omitempty"`
	UniqueKey  *string  `gorm:"column:unique_key;type:text;uniqueIndex" json:"unique_key,omitempty"`
}

func (KeyRow) TableName() string { return "document_key" }
