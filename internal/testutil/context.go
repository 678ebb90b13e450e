package testutil

import (
	"context"

	"github.com/creditrail/creditrail/internal/config"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

const (
	TestTenantID = "tenant_test"
	TestUserID   = "user_test"
)

// SetupContext returns a context carrying the standard test tenant and user.
func SetupContext() context.Context {
	ctx := context.Background()
	ctx = types.SetTenantID(ctx, TestTenantID)
	ctx = types.SetUserID(ctx, TestUserID)
	return ctx
}

// GetLogger returns a logger suitable for tests.
func GetLogger() *logger.Logger {
	return logger.GetLogger()
}

// GetConfig returns the default configuration used by service tests.
func GetConfig() *config.Configuration {
	return config.GetDefaultConfig()
}

// InMemoryDB satisfies the storage gateway without a database. Units run the
// callback directly and commit hooks fire immediately, which matches the
// gateway's behavior outside an active unit.
type InMemoryDB struct{}

var _ postgres.IClient = (*InMemoryDB)(nil)

func NewInMemoryDB() *InMemoryDB {
	return &InMemoryDB{}
}

func (db *InMemoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (db *InMemoryDB) GetQuerier(ctx context.Context) postgres.Querier {
	return nil
}

func (db *InMemoryDB) OnCommit(ctx context.Context, hook func()) {
	hook()
}
