package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/crypto"
	"github.com/ekaya-inc/catalog-sync/pkg/database"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

// LocalDatabaseRepository defines data access for source database connections.
// Passwords are encrypted before they reach the table and decrypted on read.
type LocalDatabaseRepository interface {
	// Create inserts a new local database. Returns ErrConflict if the name is taken.
	Create(ctx context.Context, db *models.LocalDatabase) error

	// GetByID retrieves a local database. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.LocalDatabase, error)

	// List returns the local databases with the given ids, or all of them when ids is empty.
	List(ctx context.Context, ids []uuid.UUID) ([]*models.LocalDatabase, error)
}

type localDatabaseRepository struct {
	db        *database.DB
	encryptor *crypto.CredentialEncryptor
}

var _ LocalDatabaseRepository = (*localDatabaseRepository)(nil)

// NewLocalDatabaseRepository creates a new local database repository.
func NewLocalDatabaseRepository(db *database.DB, encryptor *crypto.CredentialEncryptor) LocalDatabaseRepository {
	return &localDatabaseRepository{db: db, encryptor: encryptor}
}

const localDatabaseColumns = `id, name, engine_type, jdbc_url, database_name, schema_name, username, password_encrypted, created_at, updated_at`

func (r *localDatabaseRepository) Create(ctx context.Context, db *models.LocalDatabase) error {
	if db.ID == uuid.Nil {
		db.ID = uuid.New()
	}
	now := time.Now()
	db.CreatedAt = now
	db.UpdatedAt = now

	encrypted, err := r.encryptor.Encrypt(db.Password, db.ID.String())
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}

	query := `
		INSERT INTO local_databases (` + localDatabaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Conn(ctx).Exec(ctx, query,
		db.ID,
		db.Name,
		db.Type,
		db.URL,
		db.Database,
		db.Schema,
		db.Username,
		encrypted,
		db.CreatedAt,
		db.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create local database: %w", err)
	}

	return nil
}

func (r *localDatabaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LocalDatabase, error) {
	query := `SELECT ` + localDatabaseColumns + ` FROM local_databases WHERE id = $1`

	db, err := r.scan(r.db.Conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return db, nil
}

func (r *localDatabaseRepository) List(ctx context.Context, ids []uuid.UUID) ([]*models.LocalDatabase, error) {
	query := `SELECT ` + localDatabaseColumns + ` FROM local_databases`
	args := []any{}
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list local databases: %w", err)
	}
	defer rows.Close()

	var dbs []*models.LocalDatabase
	for rows.Next() {
		db, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate local databases: %w", err)
	}

	return dbs, nil
}

func (r *localDatabaseRepository) scan(row pgx.Row) (*models.LocalDatabase, error) {
	var db models.LocalDatabase
	var encrypted string
	err := row.Scan(
		&db.ID,
		&db.Name,
		&db.Type,
		&db.URL,
		&db.Database,
		&db.Schema,
		&db.Username,
		&encrypted,
		&db.CreatedAt,
		&db.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan local database: %w", err)
	}

	password, err := r.encryptor.Decrypt(encrypted, db.ID.String())
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, fmt.Errorf("local database %s: %w", db.ID, apperrors.ErrCredentialsKeyMismatch)
		}
		return nil, err
	}
	db.Password = password

	return &db, nil
}
