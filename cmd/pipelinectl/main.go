package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"leadintel_backend/internal/app"
	"leadintel_backend/internal/lifecycle"
	"leadintel_backend/internal/pipeline/service"
	"leadintel_backend/internal/pipeline/transport"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "pipelinectl",
	Short:         "Operate the lead intelligence pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id")
	rootCmd.AddCommand(rankedCmd())
	rootCmd.AddCommand(rescoreCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(enrichCmd())
	rootCmd.AddCommand(goalsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withService builds the application for the duration of one command.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)
	ctx := cmd.Context()

	components, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(ctx, components.Pipeline.Service())
}

func tenantFlag(cmd *cobra.Command, required bool) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("tenant")
	if strings.TrimSpace(raw) == "" {
		if required {
			return uuid.Nil, fmt.Errorf("--tenant is required")
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --tenant: %w", err)
	}
	return id, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func rankedCmd() *cobra.Command {
	var states []string
	var limit int
	cmd := &cobra.Command{
		Use:   "ranked",
		Short: "List a tenant's leads by total score",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tenantFlag(cmd, true)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.RankedLeads(ctx, tenant, transport.RankedLeadsQuery{States: states, Limit: limit})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				tw := newTable(table.Row{"ID", "Total", "Timing", "Groove", "Psychology", "State", "Attempts"})
				for _, l := range res.Items {
					tw.AppendRow(table.Row{
						l.ID,
						fmt.Sprintf("%.1f", l.Scores.Total),
						fmt.Sprintf("%.1f", l.Scores.Timing),
						fmt.Sprintf("%.1f", l.Scores.Groove),
						fmt.Sprintf("%.1f", l.Scores.Psychology),
						l.EngagementState,
						l.ContactAttempts,
					})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "Total", res.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "engagement states to include")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum leads to list")
	return cmd
}

func rescoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescore",
		Short: "Recompute stale scores for one tenant or all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tenantFlag(cmd, false)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				tenants := []uuid.UUID{tenant}
				if tenant == uuid.Nil {
					if tenants, err = svc.ListTenants(ctx); err != nil {
						return err
					}
				}

				results := make(map[uuid.UUID]transport.RescoreResponse, len(tenants))
				for _, id := range tenants {
					res, err := svc.RescoreTenant(ctx, id)
					if err != nil {
						return fmt.Errorf("tenant %s: %w", id, err)
					}
					results[id] = res
				}
				if jsonOutput(cmd) {
					return printJSON(results)
				}
				tw := newTable(table.Row{"Tenant", "Examined", "Rescored", "Failures"})
				for _, id := range tenants {
					r := results[id]
					tw.AppendRow(table.Row{id, r.Examined, r.Rescored, r.Failures})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the lifecycle sweep for one tenant or all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tenantFlag(cmd, false)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				sweep := svc.SweepAll
				if tenant != uuid.Nil {
					sweep = func(ctx context.Context) (lifecycle.SweepResult, error) {
						return svc.SweepLifecycle(ctx, tenant)
					}
				}
				res, err := sweep(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Examined", "Stale", "Archived", "Reactivated", "Failures"})
				tw.AppendRow(table.Row{res.Examined, res.StaleCount, res.ArchivedCount, res.ReactivatedCount, len(res.Failures)})
				tw.Render()
				for _, f := range res.Failures {
					fmt.Fprintf(os.Stderr, "lead %s: %s\n", f.LeadID, f.Error)
				}
				return nil
			})
		},
	}
}

func enrichCmd() *cobra.Command {
	var leadID string
	var providers []string
	var force bool
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Enrich one lead synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tenantFlag(cmd, true)
			if err != nil {
				return err
			}
			lead, err := uuid.Parse(leadID)
			if err != nil {
				return fmt.Errorf("invalid --lead: %w", err)
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.EnrichLead(ctx, tenant, lead, transport.EnrichLeadRequest{Providers: providers, Force: force})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Provider", "Status", "Attempts", "Fields", "Error"})
				for _, r := range res.Results {
					tw.AppendRow(table.Row{r.Provider, r.Status, r.Attempts, strings.Join(r.Fields, ","), r.ErrorKind})
				}
				tw.Render()
				fmt.Printf("total score %.1f (partial=%t)\n", res.Lead.Scores.Total, res.Partial)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&leadID, "lead", "", "lead id")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "providers to run (default: all registered)")
	cmd.Flags().BoolVar(&force, "force", false, "ignore freshness of earlier enrichment")
	_ = cmd.MarkFlagRequired("lead")
	return cmd
}

func goalsCmd() *cobra.Command {
	goals := &cobra.Command{Use: "goals", Short: "Goal progress and recommendations"}
	goals.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Recompute progress for every goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.RecomputeGoals(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				fmt.Printf("recomputed %d goals, %d failures\n", res.Goals, res.Failures)
				return nil
			})
		},
	})

	var goalID string
	recommend := &cobra.Command{
		Use:   "recommend",
		Short: "Show recommended actions for a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, err := tenantFlag(cmd, true)
			if err != nil {
				return err
			}
			goal, err := uuid.Parse(goalID)
			if err != nil {
				return fmt.Errorf("invalid --goal: %w", err)
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.RecommendActions(ctx, tenant, goal)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(res)
				}
				fmt.Printf("%s: %.0f of %.0f (%s, gap %.1f)\n",
					res.Goal.Name, res.Goal.CurrentValue, res.Goal.TargetValue, res.Goal.Status, res.Goal.Gap)
				tw := newTable(table.Row{"#", "Lead", "Action", "Score", "Question"})
				for _, r := range res.Recommendations {
					tw.AppendRow(table.Row{r.Priority, r.LeadID, r.Action, fmt.Sprintf("%.1f", r.Score), r.Question})
				}
				tw.Render()
				return nil
			})
		},
	}
	recommend.Flags().StringVar(&goalID, "goal", "", "goal id")
	_ = recommend.MarkFlagRequired("goal")
	goals.AddCommand(recommend)
	return goals
}
