// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"io"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dino16m/chainvote-server/internal/data"
)

// NewDB opens a private in-memory database with the schema applied.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err, "open db")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, data.Migrate(db), "migrate")
	return db
}

func NewStore(t *testing.T) *data.Store {
	t.Helper()
	return data.NewStore(NewDB(t))
}

// Logger returns a logger that discards output unless the test runs verbose.
func Logger(t *testing.T) *logrus.Logger {
	t.Helper()
	logger := logrus.New()
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	logger.SetLevel(logrus.DebugLevel)
	return logger
}
