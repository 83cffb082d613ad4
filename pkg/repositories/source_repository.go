package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// SourceRepository defines data access for sources and their sync state.
// Inline credentials are stored as encrypted TEXT; encryption is handled by the service layer
// and the ciphertext is only ever returned alongside, never inside, the model.
type SourceRepository interface {
	// Create inserts a new source. encryptedCredentials may be empty.
	Create(ctx context.Context, src *models.Source, encryptedCredentials string) error

	// GetByID returns the source and its encrypted inline credentials.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Source, string, error)

	ListByEntanglement(ctx context.Context, entanglementID uuid.UUID) ([]*models.Source, error)

	// ListEnabled returns every enabled source, oldest sync first.
	ListEnabled(ctx context.Context) ([]*models.Source, error)

	// ListByJewel returns sources that reference the given jewel.
	ListByJewel(ctx context.Context, jewelID uuid.UUID) ([]*models.Source, error)

	// Update writes config, enabled and jewel_id. A nil encryptedCredentials leaves
	// the stored credentials untouched; an empty string clears them.
	Update(ctx context.Context, src *models.Source, encryptedCredentials *string) error

	Delete(ctx context.Context, id uuid.UUID) error

	// MarkSyncSuccess records a completed sync: new cursor and last_sync, error state cleared.
	MarkSyncSuccess(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error

	// MarkSyncFailure records a failed sync. The cursor and last_sync are left as they were.
	MarkSyncFailure(ctx context.Context, id uuid.UUID, message string, failedAt time.Time) error

	// AcquireSyncLease claims the source for one sync attempt. Returns false when another
	// holder's lease has not yet expired.
	AcquireSyncLease(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) (bool, error)

	// ReleaseSyncLease drops the lease if token still owns it.
	ReleaseSyncLease(ctx context.Context, id uuid.UUID, token string) error
}

type sourceRepository struct{}

// NewSourceRepository creates a new source repository.
func NewSourceRepository() SourceRepository {
	return &sourceRepository{}
}

var _ SourceRepository = (*sourceRepository)(nil)

const sourceColumns = `
	id, entanglement_id, type, config, jewel_id,
	credentials IS NOT NULL AND credentials <> '' AS has_credentials,
	enabled, last_sync, sync_cursor, last_error, error_count, last_error_at,
	created_at, updated_at`

func (r *sourceRepository) Create(ctx context.Context, src *models.Source, encryptedCredentials string) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	configJSON, err := marshalConfig(src.Config)
	if err != nil {
		return err
	}

	now := time.Now()
	src.CreatedAt = now
	src.UpdatedAt = now
	src.HasCredentials = encryptedCredentials != ""

	query := `
		INSERT INTO sources (entanglement_id, type, config, credentials, jewel_id, enabled, last_sync, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		src.EntanglementID,
		src.Type,
		configJSON,
		encryptedCredentials,
		src.JewelID,
		src.Enabled,
		src.LastSync,
		src.CreatedAt,
		src.UpdatedAt,
	).Scan(&src.ID)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return fmt.Errorf("entanglement or jewel does not exist: %w", apperrors.ErrNotFound)
		case pgUniqueViolation:
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, string, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + sourceColumns + `, COALESCE(credentials, '') FROM sources WHERE id = $1`

	var encryptedCredentials string
	src, err := scanSource(scope.Conn.QueryRow(ctx, query, id), &encryptedCredentials)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get source: %w", err)
	}

	return src, encryptedCredentials, nil
}

func (r *sourceRepository) ListByEntanglement(ctx context.Context, entanglementID uuid.UUID) ([]*models.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE entanglement_id = $1 ORDER BY created_at, id`, entanglementID)
}

func (r *sourceRepository) ListEnabled(ctx context.Context) ([]*models.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE enabled ORDER BY last_sync NULLS FIRST, id`)
}

func (r *sourceRepository) ListByJewel(ctx context.Context, jewelID uuid.UUID) ([]*models.Source, error) {
	return r.list(ctx, `SELECT `+sourceColumns+` FROM sources WHERE jewel_id = $1 ORDER BY created_at, id`, jewelID)
}

func (r *sourceRepository) list(ctx context.Context, query string, args ...any) ([]*models.Source, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]*models.Source, 0)
	for rows.Next() {
		src, err := scanSource(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}

	return sources, nil
}

func (r *sourceRepository) Update(ctx context.Context, src *models.Source, encryptedCredentials *string) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	configJSON, err := marshalConfig(src.Config)
	if err != nil {
		return err
	}

	replaceCredentials := encryptedCredentials != nil
	var newCredentials string
	if replaceCredentials {
		newCredentials = *encryptedCredentials
	}

	query := `
		UPDATE sources
		SET config = $2,
		    enabled = $3,
		    jewel_id = $4,
		    credentials = CASE WHEN $5 THEN NULLIF($6, '') ELSE credentials END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING credentials IS NOT NULL AND credentials <> '', updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		src.ID,
		configJSON,
		src.Enabled,
		src.JewelID,
		replaceCredentials,
		newCredentials,
	).Scan(&src.HasCredentials, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("source %s: %w", src.ID, apperrors.ErrNotFound)
		}
		if pgErrorCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("jewel does not exist: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to update source: %w", err)
	}

	return nil
}

func (r *sourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return execAffectingOne(ctx, "source", id, `DELETE FROM sources WHERE id = $1`, id)
}

func (r *sourceRepository) MarkSyncSuccess(ctx context.Context, id uuid.UUID, cursor string, syncedAt time.Time) error {
	query := `
		UPDATE sources
		SET last_sync = $2,
		    sync_cursor = NULLIF($3, ''),
		    last_error = NULL,
		    error_count = 0,
		    last_error_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`
	return execAffectingOne(ctx, "source", id, query, id, syncedAt, cursor)
}

func (r *sourceRepository) MarkSyncFailure(ctx context.Context, id uuid.UUID, message string, failedAt time.Time) error {
	query := `
		UPDATE sources
		SET last_error = $2,
		    last_error_at = $3,
		    error_count = error_count + 1,
		    updated_at = NOW()
		WHERE id = $1`
	return execAffectingOne(ctx, "source", id, query, id, message, failedAt)
}

func (r *sourceRepository) AcquireSyncLease(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) (bool, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE sources
		SET sync_lease_token = $2,
		    sync_lease_until = NOW() + ($3::bigint * INTERVAL '1 millisecond')
		WHERE id = $1
		  AND (sync_lease_until IS NULL OR sync_lease_until < NOW())`

	tag, err := scope.Conn.Exec(ctx, query, id, token, ttl.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := scope.Conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sources WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check source: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("source %s: %w", id, apperrors.ErrNotFound)
	}
	return false, nil
}

func (r *sourceRepository) ReleaseSyncLease(ctx context.Context, id uuid.UUID, token string) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE sources
		SET sync_lease_token = NULL, sync_lease_until = NULL
		WHERE id = $1 AND sync_lease_token = $2`

	if _, err := scope.Conn.Exec(ctx, query, id, token); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// execAffectingOne runs a statement that must touch exactly one row identified by id.
func execAffectingOne(ctx context.Context, entity string, id uuid.UUID, query string, args ...any) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	tag, err := scope.Conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, apperrors.ErrNotFound)
	}
	return nil
}

func marshalConfig(config map[string]any) ([]byte, error) {
	if config == nil {
		return []byte("{}"), nil
	}
	raw, err := marshalJSONB(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source config: %w", err)
	}
	return raw, nil
}

// scanSource reads sourceColumns, plus the credentials column when encryptedCredentials is non-nil.
func scanSource(row pgx.Row, encryptedCredentials *string) (*models.Source, error) {
	var src models.Source
	var configJSON []byte

	dest := []any{
		&src.ID,
		&src.EntanglementID,
		&src.Type,
		&configJSON,
		&src.JewelID,
		&src.HasCredentials,
		&src.Enabled,
		&src.LastSync,
		&src.SyncCursor,
		&src.LastError,
		&src.ErrorCount,
		&src.LastErrorAt,
		&src.CreatedAt,
		&src.UpdatedAt,
	}
	if encryptedCredentials != nil {
		dest = append(dest, encryptedCredentials)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	config, err := unmarshalJSONB(configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode source config: %w", err)
	}
	if config == nil {
		config = map[string]any{}
	}
	src.Config = config

	return &src, nil
}
