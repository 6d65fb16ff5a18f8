package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/panelworks/cutflow/internal/models"
)

func SetupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Disable logs during tests
		TranslateError: true,
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Job{}, &models.AuditEvent{}, &models.Customer{})
	require.NoError(t, err)

	return db
}
