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

// JewelRepository defines data access for vault-held credentials.
// The data column holds ciphertext produced by the service layer.
type JewelRepository interface {
	Create(ctx context.Context, jewel *models.Jewel, encryptedData string) error

	// GetByID returns the jewel and its encrypted credential payload.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Jewel, string, error)

	// List returns jewels, optionally filtered by type. Ciphertext is never loaded.
	List(ctx context.Context, jewelType models.SourceType) ([]*models.Jewel, error)

	// Update writes name and validation state. A nil encryptedData keeps the stored credentials.
	Update(ctx context.Context, jewel *models.Jewel, encryptedData *string) error

	// Delete removes the jewel. Returns apperrors.ErrJewelInUse if a source still references it.
	Delete(ctx context.Context, id uuid.UUID) error
}

type jewelRepository struct{}

// NewJewelRepository creates a new jewel repository.
func NewJewelRepository() JewelRepository {
	return &jewelRepository{}
}

var _ JewelRepository = (*jewelRepository)(nil)

const jewelColumns = `id, name, type, owner_id, validation_metadata, last_validated, created_at, updated_at`

func (r *jewelRepository) Create(ctx context.Context, jewel *models.Jewel, encryptedData string) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(jewel.ValidationMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode validation metadata: %w", err)
	}

	now := time.Now()
	jewel.CreatedAt = now
	jewel.UpdatedAt = now

	query := `
		INSERT INTO jewels (name, type, data, owner_id, validation_metadata, last_validated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err = scope.Conn.QueryRow(ctx, query,
		jewel.Name,
		jewel.Type,
		encryptedData,
		jewel.OwnerID,
		metadata,
		jewel.LastValidated,
		jewel.CreatedAt,
		jewel.UpdatedAt,
	).Scan(&jewel.ID)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return fmt.Errorf("owner does not exist: %w", apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to create jewel: %w", err)
	}

	return nil
}

func (r *jewelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Jewel, string, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + jewelColumns + `, data FROM jewels WHERE id = $1`

	var encryptedData string
	jewel, err := scanJewel(scope.Conn.QueryRow(ctx, query, id), &encryptedData)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", fmt.Errorf("jewel %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get jewel: %w", err)
	}

	return jewel, encryptedData, nil
}

func (r *jewelRepository) List(ctx context.Context, jewelType models.SourceType) ([]*models.Jewel, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + jewelColumns + `
		FROM jewels
		WHERE ($1 = '' OR type = $1)
		ORDER BY created_at DESC, id`

	rows, err := scope.Conn.Query(ctx, query, string(jewelType))
	if err != nil {
		return nil, fmt.Errorf("failed to list jewels: %w", err)
	}
	defer rows.Close()

	jewels := make([]*models.Jewel, 0)
	for rows.Next() {
		jewel, err := scanJewel(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to scan jewel: %w", err)
		}
		jewels = append(jewels, jewel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jewels: %w", err)
	}

	return jewels, nil
}

func (r *jewelRepository) Update(ctx context.Context, jewel *models.Jewel, encryptedData *string) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(jewel.ValidationMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode validation metadata: %w", err)
	}

	replaceData := encryptedData != nil
	var newData string
	if replaceData {
		newData = *encryptedData
	}

	query := `
		UPDATE jewels
		SET name = $2,
		    data = CASE WHEN $3 THEN $4 ELSE data END,
		    validation_metadata = $5,
		    last_validated = $6,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err = scope.Conn.QueryRow(ctx, query,
		jewel.ID,
		jewel.Name,
		replaceData,
		newData,
		metadata,
		jewel.LastValidated,
	).Scan(&jewel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("jewel %s: %w", jewel.ID, apperrors.ErrNotFound)
		}
		return fmt.Errorf("failed to update jewel: %w", err)
	}

	return nil
}

func (r *jewelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := execAffectingOne(ctx, "jewel", id, `DELETE FROM jewels WHERE id = $1`, id)
	if err != nil && pgErrorCode(err) == pgForeignKeyViolation {
		// A source was attached between the usage check and the delete.
		return fmt.Errorf("jewel %s: %w", id, apperrors.ErrJewelInUse)
	}
	return err
}

func scanJewel(row pgx.Row, encryptedData *string) (*models.Jewel, error) {
	var jewel models.Jewel
	var metadata []byte

	dest := []any{
		&jewel.ID,
		&jewel.Name,
		&jewel.Type,
		&jewel.OwnerID,
		&metadata,
		&jewel.LastValidated,
		&jewel.CreatedAt,
		&jewel.UpdatedAt,
	}
	if encryptedData != nil {
		dest = append(dest, encryptedData)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	m, err := unmarshalJSONB(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to decode validation metadata: %w", err)
	}
	jewel.ValidationMetadata = m

	return &jewel, nil
}
