package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/lumora-ai/lumora/internal/config"
	"github.com/lumora-ai/lumora/internal/database"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/repository"
	"github.com/lumora-ai/lumora/internal/service"
)

func FlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Manage feature flags",
		Long:  "Inspect and toggle runtime feature flags",
	}

	cmd.AddCommand(FlagsListCmd())
	cmd.AddCommand(FlagsSetCmd())

	return cmd
}

func FlagsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all feature flags",
		Long:  "List every feature flag with its state, rollout percentage, and expiry",
		RunE:  runFlagsList,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runFlagsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	flagRepo := repository.NewFlagRepository(pool)
	flagSvc := service.NewFlagService(flagRepo, 0, 0)

	flags, err := flagSvc.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list flags: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(flags))
		for i, f := range flags {
			entry := map[string]interface{}{
				"key":        f.Key,
				"enabled":    f.Enabled,
				"rollout":    f.Rollout,
				"updated_at": f.UpdatedAt,
			}
			if f.ExpiresAt != nil {
				entry["expires_at"] = f.ExpiresAt
			}
			data[i] = entry
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(flags) == 0 {
			fmt.Println("No flags defined")
			return nil
		}
		for _, f := range flags {
			state := "off"
			if f.Enabled {
				state = "on"
			}
			line := fmt.Sprintf("%-24s %-4s rollout=%.0f%%", f.Key, state, f.Rollout)
			if f.ExpiresAt != nil {
				line += fmt.Sprintf(" expires=%s", f.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Println(line)
		}
	}

	return nil
}

func FlagsSetCmd() *cobra.Command {
	var (
		enabled bool
		rollout float64
		expires string
	)

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Set a feature flag",
		Long:  "Create or update a feature flag with the given state and rollout percentage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlagsSet(args[0], enabled, rollout, expires)
		},
	}

	cmd.Flags().BoolVar(&enabled, "enabled", false, "Whether the flag is on")
	cmd.Flags().Float64Var(&rollout, "rollout", 100, "Rollout percentage (0-100)")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry timestamp in RFC3339 (optional)")

	return cmd
}

func runFlagsSet(key string, enabled bool, rollout float64, expires string) error {
	ctx := context.Background()

	var expiresAt *time.Time
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return fmt.Errorf("invalid --expires value: %w", err)
		}
		expiresAt = &t
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	flagRepo := repository.NewFlagRepository(pool)
	flagSvc := service.NewFlagService(flagRepo, 0, 0)

	flag := &domain.FeatureFlag{
		Key:       key,
		Enabled:   enabled,
		Rollout:   rollout,
		ExpiresAt: expiresAt,
	}
	if err := flagSvc.Set(ctx, flag); err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}

	state := "off"
	if enabled {
		state = "on"
	}
	fmt.Printf("Flag %s set to %s (rollout %.0f%%)\n", key, state, rollout)

	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}
