// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clmc/procurement/internal/config"
	"github.com/clmc/procurement/internal/db"
	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// DB opens a migrated SQLite database under t.TempDir.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return gormDB
}

// Store returns a store over a fresh database together with its event bus.
func Store(t *testing.T) (*store.Store, *events.Bus) {
	t.Helper()
	bus := events.NewBus(observability.Discard())
	return store.New(DB(t), bus), bus
}
