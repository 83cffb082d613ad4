package repositories

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

func TestBuildQuptListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name         string
		filter       models.QuptFilter
		wantContains []string
		wantAbsent   []string
		wantArgs     int
	}{
		{
			name:         "entanglement only",
			filter:       models.QuptFilter{EntanglementID: uuid.New(), Limit: 50},
			wantContains: []string{"entanglement_id = $1", "LIMIT $2 OFFSET $3"},
			wantAbsent:   []string{"RECURSIVE", "source ="},
			wantArgs:     3,
		},
		{
			name:         "descendants use recursive CTE",
			filter:       models.QuptFilter{EntanglementID: uuid.New(), IncludeDescendants: true, Limit: 50},
			wantContains: []string{"WITH RECURSIVE tree", "e.parent_id = t.id", "IN (SELECT id FROM tree)"},
			wantArgs:     3,
		},
		{
			name: "all filters",
			filter: models.QuptFilter{
				EntanglementID: uuid.New(),
				Source:         "github",
				Since:          &since,
				Until:          &until,
				Limit:          10,
				Offset:         20,
			},
			wantContains: []string{"source = $2", "created_at >= $3", "created_at < $4", "LIMIT $5 OFFSET $6"},
			wantArgs:     6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildQuptListQuery(tt.filter)
			for _, s := range tt.wantContains {
				if !strings.Contains(query, s) {
					t.Errorf("query missing %q:\n%s", s, query)
				}
			}
			for _, s := range tt.wantAbsent {
				if strings.Contains(query, s) {
					t.Errorf("query unexpectedly contains %q", s)
				}
			}
			if !strings.Contains(query, "ORDER BY created_at DESC, id DESC") {
				t.Error("query must order newest first")
			}
			if len(args) != tt.wantArgs {
				t.Errorf("expected %d args, got %d", tt.wantArgs, len(args))
			}
		})
	}
}
