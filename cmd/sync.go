package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/catalog-sync/pkg/apperrors"
	"github.com/ekaya-inc/catalog-sync/pkg/config"
	"github.com/ekaya-inc/catalog-sync/pkg/models"
)

var syncIDs []string

var syncCmd = &cobra.Command{
	Use:       "sync [databases|datasets|all]",
	Short:     "Run one reconciliation pass and print the result",
	Long:      `sync runs a single manual pass against the remote catalog. Failed passes are not retried; rerun the command instead.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"databases", "datasets", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "all"
		if len(args) == 1 {
			target = args[0]
		}

		ids, err := parseIDs(syncIDs)
		if err != nil {
			return err
		}
		if target == "all" && len(ids) > 0 {
			return fmt.Errorf("--id cannot be combined with a full sync")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkSyncConfigured(cfg); err != nil {
			return err
		}
		// The pass drives no retries from the CLI.
		cfg.Superset.Sync.MaxRetries = 0

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck // stderr sync fails on some platforms

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		rows := runSync(ctx, a, target, ids)
		renderSyncResults(rows)

		for _, r := range rows {
			if !r.result.Success {
				return fmt.Errorf("%s sync failed: %s", r.pass, r.result.Message)
			}
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncIDs, "id", nil, "Limit the pass to these local database or dataset IDs (repeatable)")
}

// checkSyncConfigured rejects a sync that would do nothing.
func checkSyncConfigured(cfg *config.Config) error {
	if !cfg.Superset.Enabled || !cfg.Superset.Sync.Enabled {
		return apperrors.ErrSyncDisabled
	}
	if cfg.Superset.BaseURL == "" {
		return apperrors.ErrNotConfigured
	}
	return nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

type passResult struct {
	pass   string
	result *models.SyncResult
}

func runSync(ctx context.Context, a *app, target string, ids []uuid.UUID) []passResult {
	spinner, _ := pterm.DefaultSpinner.Start("Syncing " + target + " ...")
	defer func() {
		if spinner != nil {
			_ = spinner.Stop()
		}
	}()

	switch target {
	case "databases":
		return []passResult{{"databases", a.syncService.SyncDatabases(ctx, ids, models.SyncTriggerManual)}}
	case "datasets":
		return []passResult{{"datasets", a.syncService.SyncDatasets(ctx, ids, models.SyncTriggerManual)}}
	default:
		full := a.syncService.SyncAll(ctx, models.SyncTriggerManual)
		return []passResult{{"databases", full.Databases}, {"datasets", full.Datasets}}
	}
}

func renderSyncResults(rows []passResult) {
	data := pterm.TableData{{"Pass", "Status", "Total", "Created", "Updated", "Skipped", "Failed", "Duration", "Message"}}
	for _, r := range rows {
		status := pterm.Green("ok")
		if !r.result.Success {
			status = pterm.Red("failed")
		}
		s := r.result.Stats
		data = append(data, []string{
			r.pass,
			status,
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Created),
			strconv.Itoa(s.Updated),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Failed),
			fmt.Sprintf("%dms", r.result.DurationMs),
			r.result.Message,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}
