package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/zoku-engine/pkg/apperrors"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// QuptRepository defines data access for the activity log.
type QuptRepository interface {
	// BatchInsert writes qupts in one transaction, skipping any whose (source, external_id)
	// already exists. Returns the number of rows actually inserted.
	BatchInsert(ctx context.Context, qupts []*models.Qupt) (int, error)

	// Create inserts a single qupt and fills in its ID and CreatedAt.
	Create(ctx context.Context, qupt *models.Qupt) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Qupt, error)

	// List returns qupts matching filter, newest first.
	List(ctx context.Context, filter models.QuptFilter) ([]*models.Qupt, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

type quptRepository struct{}

// NewQuptRepository creates a new qupt repository.
func NewQuptRepository() QuptRepository {
	return &quptRepository{}
}

var _ QuptRepository = (*quptRepository)(nil)

const quptColumns = `id, entanglement_id, zoku_id, content, source, external_id, metadata, created_at`

func (r *quptRepository) BatchInsert(ctx context.Context, qupts []*models.Qupt) (int, error) {
	if len(qupts) == 0 {
		return 0, nil
	}

	scope, err := getScope(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	query := `
		INSERT INTO qupts (entanglement_id, zoku_id, content, source, external_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (source, external_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, q := range qupts {
		metadata, err := marshalJSONB(q.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode qupt metadata: %w", err)
		}
		batch.Queue(query, q.EntanglementID, q.ZokuID, q.Content, q.Source, q.ExternalID, metadata, nullableTime(q))
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range qupts {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			if pgErrorCode(err) == pgForeignKeyViolation {
				return 0, fmt.Errorf("entanglement does not exist: %w", apperrors.ErrNotFound)
			}
			return 0, fmt.Errorf("failed to insert qupt: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

func (r *quptRepository) Create(ctx context.Context, qupt *models.Qupt) error {
	scope, err := getScope(ctx)
	if err != nil {
		return err
	}

	metadata, err := marshalJSONB(qupt.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode qupt metadata: %w", err)
	}

	query := `
		INSERT INTO qupts (entanglement_id, zoku_id, content, source, external_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err = scope.Conn.QueryRow(ctx, query,
		qupt.EntanglementID,
		qupt.ZokuID,
		qupt.Content,
		qupt.Source,
		qupt.ExternalID,
		metadata,
	).Scan(&qupt.ID, &qupt.CreatedAt)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return fmt.Errorf("entanglement or zoku does not exist: %w", apperrors.ErrNotFound)
		case pgUniqueViolation:
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create qupt: %w", err)
	}

	return nil
}

func (r *quptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Qupt, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, err
	}

	qupt, err := scanQupt(scope.Conn.QueryRow(ctx, `SELECT `+quptColumns+` FROM qupts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("qupt %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get qupt: %w", err)
	}
	return qupt, nil
}

func (r *quptRepository) List(ctx context.Context, filter models.QuptFilter) ([]*models.Qupt, error) {
	scope, err := getScope(ctx)
	if err != nil {
		return nil, err
	}

	filter.Normalize()
	query, args := buildQuptListQuery(filter)

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list qupts: %w", err)
	}
	defer rows.Close()

	qupts := make([]*models.Qupt, 0)
	for rows.Next() {
		qupt, err := scanQupt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan qupt: %w", err)
		}
		qupts = append(qupts, qupt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating qupts: %w", err)
	}

	return qupts, nil
}

// buildQuptListQuery assembles the list query. With IncludeDescendants the
// entanglement subtree is expanded through a recursive CTE on parent_id.
func buildQuptListQuery(filter models.QuptFilter) (string, []any) {
	var sb strings.Builder
	args := []any{filter.EntanglementID}

	if filter.IncludeDescendants {
		sb.WriteString(`
		WITH RECURSIVE tree AS (
			SELECT id FROM entanglements WHERE id = $1
			UNION
			SELECT e.id FROM entanglements e JOIN tree t ON e.parent_id = t.id
		)
		SELECT ` + quptColumns + `
		FROM qupts
		WHERE entanglement_id IN (SELECT id FROM tree)`)
	} else {
		sb.WriteString(`
		SELECT ` + quptColumns + `
		FROM qupts
		WHERE entanglement_id = $1`)
	}

	if filter.Source != "" {
		args = append(args, filter.Source)
		fmt.Fprintf(&sb, " AND source = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		fmt.Fprintf(&sb, " AND created_at < $%d", len(args))
	}

	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return sb.String(), args
}

func (r *quptRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return execAffectingOne(ctx, "qupt", id, `DELETE FROM qupts WHERE id = $1`, id)
}

func nullableTime(q *models.Qupt) any {
	if q.CreatedAt.IsZero() {
		return nil
	}
	return q.CreatedAt
}

func scanQupt(row pgx.Row) (*models.Qupt, error) {
	var q models.Qupt
	var metadata []byte

	if err := row.Scan(
		&q.ID,
		&q.EntanglementID,
		&q.ZokuID,
		&q.Content,
		&q.Source,
		&q.ExternalID,
		&metadata,
		&q.CreatedAt,
	); err != nil {
		return nil, err
	}

	m, err := unmarshalJSONB(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to decode qupt metadata: %w", err)
	}
	q.Metadata = m

	return &q, nil
}
