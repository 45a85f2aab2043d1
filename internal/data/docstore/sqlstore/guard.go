package sqlstore

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// versionGuard writes document bodies with compare-and-set on version.
type versionGuard struct {
	tx *gorm.DB
}

// UpdateByVersion replaces the body of a document only when id+version still
// match, bumping the version. It reports false when another writer got there
// first.
func (g versionGuard) UpdateByVersion(id uint64, expectedVersion int64, body datatypes.JSON) (bool, error) {
	if id == 0 {
		return false, fmt.Errorf("sqlstore: document id is required for UpdateByVersion")
	}
	if expectedVersion < 0 {
		return false, fmt.Errorf("sqlstore: expectedVersion must be >= 0")
	}
	res := g.tx.Model(&DocumentRow{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"body":       body,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
