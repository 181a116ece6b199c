package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumora-ai/lumora/internal/config"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/jobs"
	"github.com/lumora-ai/lumora/internal/repository"
)

func DispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Manage the dispatch queue",
		Long:  "Re-dispatch sources for chunking and inspect the dispatch queue",
	}

	cmd.AddCommand(DispatchOwnerCmd())
	cmd.AddCommand(DispatchStatusCmd())

	return cmd
}

func DispatchOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner <owner-id>",
		Short: "Re-dispatch all of an owner's sources",
		Long:  "Enqueue a throttled chunk job for every source document an owner has. Chunking is idempotent, so sources whose content is unchanged are skipped by the worker.",
		Args:  cobra.ExactArgs(1),
		RunE:  runDispatchOwner,
	}

	return cmd
}

func runDispatchOwner(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	ownerID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sourceRepo := repository.NewSourceRepository(pool)
	dispatchRepo := repository.NewDispatchRepository(pool)

	sources, err := sourceRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Printf("No sources found for owner %s\n", ownerID)
		return nil
	}

	refs := make([]jobs.SourceRef, len(sources))
	for i, src := range sources {
		refs[i] = jobs.SourceRef{
			SourceID: src.ID,
			OwnerID:  src.OwnerID,
			Type:     src.Type,
		}
	}

	dispatcher := jobs.NewDispatcher(dispatchRepo, jobs.DispatcherConfig{
		MinDelay: cfg.DispatchMinDelay,
		MaxDelay: cfg.DispatchMaxDelay,
		Spacing:  cfg.DispatchSpacing,
	})
	if err := dispatcher.DispatchChunk(ctx, refs); err != nil {
		return fmt.Errorf("failed to dispatch: %w", err)
	}

	fmt.Printf("Dispatched %d chunk jobs for owner %s\n", len(refs), ownerID)

	return nil
}

func DispatchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending dispatch queue depth",
		RunE:  runDispatchStatus,
	}

	return cmd
}

func runDispatchStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	dispatchRepo := repository.NewDispatchRepository(pool)
	count, err := dispatchRepo.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending jobs: %w", err)
	}

	fmt.Printf("Pending dispatch jobs: %d\n", count)

	return nil
}

func RulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage intent routing rules",
		Long:  "Inspect the active intent ruleset or load a new versioned ruleset",
	}

	cmd.AddCommand(RulesShowCmd())
	cmd.AddCommand(RulesLoadCmd())

	return cmd
}

func RulesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active intent ruleset",
		RunE:  runRulesShow,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	ruleRepo := repository.NewIntentRuleRepository(pool)
	rules, version, err := ruleRepo.ActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ruleset: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"version": version,
			"rules":   rulesToJSON(rules),
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Ruleset version %d (%d rules)\n", version, len(rules))
		for _, r := range rules {
			fmt.Printf("  %-10s %-6.2f %s\n", r.Intent, r.Weight, r.Phrase)
		}
	}

	return nil
}

func rulesToJSON(rules []domain.IntentRule) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rules))
	for i, r := range rules {
		out[i] = map[string]interface{}{
			"phrase": r.Phrase,
			"intent": r.Intent,
			"weight": r.Weight,
		}
	}
	return out
}

// ruleFile is the on-disk format accepted by `rules load`.
type ruleFile struct {
	Rules []struct {
		Phrase string  `json:"phrase"`
		Intent string  `json:"intent"`
		Weight float64 `json:"weight"`
	} `json:"rules"`
}

func RulesLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <file.json>",
		Short: "Load a new intent ruleset from a JSON file",
		Long:  "Replace the active ruleset atomically. The new ruleset gets the next version number; routers pick it up when their cache expires.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRulesLoad,
	}

	return cmd
}

func runRulesLoad(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}
	if len(file.Rules) == 0 {
		return fmt.Errorf("rules file contains no rules")
	}

	rules := make([]domain.IntentRule, len(file.Rules))
	for i, r := range file.Rules {
		intent, err := domain.ParseIntent(r.Intent)
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if r.Phrase == "" {
			return fmt.Errorf("rule %d: phrase is required", i)
		}
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		rules[i] = domain.IntentRule{
			Phrase: r.Phrase,
			Intent: intent,
			Weight: weight,
		}
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	ruleRepo := repository.NewIntentRuleRepository(pool)
	version, err := ruleRepo.ReplaceRuleset(ctx, rules)
	if err != nil {
		return fmt.Errorf("failed to replace ruleset: %w", err)
	}

	fmt.Printf("Loaded %d rules as ruleset version %d\n", len(rules), version)

	return nil
}
