package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// ErrTestUnsupported is returned when an engine has no connection tester.
var ErrTestUnsupported = errors.New("connection test is not supported for this engine")

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid credentials.
	// Returns nil if connection is healthy, error otherwise.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// TestConnection opens a tester for db, runs it and closes it.
func TestConnection(ctx context.Context, db *models.LocalDatabase) error {
	if db == nil {
		return fmt.Errorf("local database is nil")
	}
	reg, ok := Lookup(db.Type)
	if !ok {
		return fmt.Errorf("%w: %q", apperrors.ErrUnsupportedEngine, db.Type)
	}
	if reg.NewTester == nil {
		return fmt.Errorf("%w: %s", ErrTestUnsupported, reg.Info.Type)
	}

	tester, err := reg.NewTester(ctx, db)
	if err != nil {
		return err
	}
	defer tester.Close()

	return tester.TestConnection(ctx)
}
