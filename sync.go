package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/zoku-engine/pkg/database"
	"github.com/ekaya-inc/zoku-engine/pkg/services"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id]",
	Short: "Sync one source, or every enabled source",
	Long: `Run a sync pass once and print the result as JSON.

With a source id the source is synced as a manual trigger, so a disabled
source is refused. Without one every enabled source is synced the way the
scheduler does.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var sourceID uuid.UUID
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid source id %q: %w", args[0], err)
		}
		sourceID = id
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if sourceID == uuid.Nil {
		summary, err := a.scheduler.SyncAll(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return enc.Encode(summary)
	}

	scopedCtx, release, err := database.NewScopeProvider(a.db).WithScope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer release()

	result, err := a.sync.TriggerSync(scopedCtx, sourceID, services.TriggerOptions{Manual: true})
	if err != nil {
		return fmt.Errorf("sync of source %s failed: %w", sourceID, err)
	}
	return enc.Encode(result)
}
