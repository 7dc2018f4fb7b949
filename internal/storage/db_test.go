package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "realty-chat/pkg/chat"
)

func TestConnect_MigratesAuditSchema(t *testing.T) {
	db, err := Connect(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer Close(db)

	assert.True(t, db.Migrator().HasTable(&AuditLog{}))

	entry := AuditLog{Action: "CONNECT", UserID: "u1", ConnectionID: "c1"}
	require.NoError(t, db.Create(&entry).Error)
	assert.Len(t, entry.ID, 12)

	var count int64
	require.NoError(t, db.Model(&AuditLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConnect_InvalidPath(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "missing", "dir", "audit.db"))
	assert.Error(t, err)
}
