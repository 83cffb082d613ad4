package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

// CreateEntanglement inserts an entanglement, optionally under parentID, and
// removes it (and everything cascading from it) when the test ends.
func (e *EngineDB) CreateEntanglement(t *testing.T, name string, parentID *uuid.UUID) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	var id uuid.UUID
	err := e.DB.Pool.QueryRow(ctx,
		`INSERT INTO entanglements (name, parent_id) VALUES ($1, $2) RETURNING id`,
		name, parentID,
	).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create entanglement: %v", err)
	}

	t.Cleanup(func() {
		_, _ = e.DB.Pool.Exec(context.Background(), `DELETE FROM entanglements WHERE id = $1`, id)
	})
	return id
}

// CreateZoku inserts a zoku and removes it when the test ends.
func (e *EngineDB) CreateZoku(t *testing.T, name string) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	var id uuid.UUID
	if err := e.DB.Pool.QueryRow(ctx, `INSERT INTO zoku (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("Failed to create zoku: %v", err)
	}

	t.Cleanup(func() {
		_, _ = e.DB.Pool.Exec(context.Background(), `DELETE FROM zoku WHERE id = $1`, id)
	})
	return id
}
