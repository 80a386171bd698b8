package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgstack/hrms/internal/models"
)

func TestOpenAndMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hrms.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	assert.True(t, db.Migrator().HasTable(&models.AuditRecord{}))
	assert.True(t, db.Migrator().HasTable(&models.DeadLetter{}))
	assert.True(t, db.Migrator().HasTable(&models.EmployeeProfile{}))
	assert.True(t, db.Migrator().HasTable(&models.AlertEvent{}))
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "nested", "hrms.db"))
	assert.Error(t, err)
}
