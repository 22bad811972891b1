package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/history"
	"stageline/internal/logger"
	"stageline/internal/repo"
	"stageline/internal/runlog"
	"stageline/internal/server"
)

func storeCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "store",
		Short: "Inspect the knowledge store",
		Long:  "The knowledge store is an append-only CSV with columns date, company, product, customer, region, threat_opportunity, source, confidence.",
	}
	st.AddCommand(storeListCmd())
	st.AddCommand(storeCheckCmd())
	return st
}

func storeListCmd() *cobra.Command {
	var company string
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge store rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := workspace.Store().Records()
			if err != nil {
				return err
			}
			var out []domain.NormalizedRecord
			for _, r := range rows {
				if company != "" && !strings.EqualFold(strings.TrimSpace(r.Company), company) {
					continue
				}
				out = append(out, r)
			}
			if n > 0 && len(out) > n {
				out = out[len(out)-n:]
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Date", "Company", "Product", "Customer", "Region", "Threat/Opportunity", "Source", "Conf"})
			for _, r := range out {
				tw.AppendRow(table.Row{r.Date, r.Company, r.Product, r.Customer, r.Region, r.ThreatOpportunity, r.Source, r.Confidence})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company filter (case-insensitive)")
	cmd.Flags().IntVarP(&n, "n", "n", 0, "only the last n rows")
	return cmd
}

func storeCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Count rows carrying a full (date, company, product) key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kb := workspace.Store()
			if !kb.Exists() {
				return exitError{code: 1, err: fmt.Errorf("knowledge store not found: %s", kb.Path())}
			}
			stats, err := kb.Stats()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(stats)
			}
			fmt.Printf("Valid rows: %d / %d\n", stats.ValidRows, stats.Rows)
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Execution event log",
		Long:  "START, END and BLOCKER events of orchestrator runs, from the run history or a manifest's text log.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var runID, jobsPath string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobsPath != "" {
				lines, err := runlog.Tail(runlog.PathFor(workspace.JobsDir(), jobsPath), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(lines)
				}
				for _, l := range lines {
					fmt.Println(l)
				}
				return nil
			}
			return withHistory(cmd.Context(), func(ctx context.Context, rec *history.Recorder) error {
				var (
					evts []domain.Event
					err  error
				)
				if runID != "" {
					evts, err = rec.Repo.EventsForRun(ctx, runID)
					if n > 0 && len(evts) > n {
						evts = evts[len(evts)-n:]
					}
				} else {
					evts, err = rec.Repo.LatestEvents(ctx, n)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Run", "Phase", "Task", "Agent", "Status"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.TS, e.RunID, e.Phase, e.Task, e.Agent, e.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&runID, "run", "", "only events of this run")
	cmd.Flags().StringVar(&jobsPath, "jobs", "", "read the text log of this manifest instead of the run history")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Orchestrator run history",
	}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, rec *history.Recorder) error {
				items, err := rec.Repo.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Manifest", "Status", "Task", "Exit", "Missing", "Started"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Manifest, r.Status, r.Task, r.ExitCode, joinOrDash(r.Missing), r.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (running|completed|blocked|failed)")
	cmd.Flags().StringVar(&f.Manifest, "manifest", "", "manifest filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum runs")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, rec *history.Recorder) error {
				run, err := rec.Repo.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.FromContext(cmd.Context())
			if addr == "" {
				addr = workspace.Config.Server.Addr
			}
			if basePath == "" {
				basePath = workspace.Config.Server.BasePath
			}
			d, err := workspace.Schema()
			if err != nil {
				return err
			}
			cfg := server.Config{Store: workspace.Store(), Schema: d, BasePath: basePath, Logger: log}
			rec, err := workspace.OpenHistory()
			if err != nil {
				return err
			}
			if rec != nil {
				defer rec.Close()
				cfg.Repo = &rec.Repo
			}
			handler, err := server.New(cfg)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stageline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "stageline.yml in the workspace sets paths, run history, logging, the API server and webhooks. Unset keys keep their defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config, run history database and blocker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := workspace.HistoryStatus()
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{
				"workspace": workspace.Dir,
				"from_file": workspace.FromFile,
				"config":    workspace.Config,
				"history":   hist,
				"blocker":   map[string]any{"path": workspace.BlockerPath(), "present": workspace.BlockerPresent()},
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stageline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := workspace.Config.Validate()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err), "from_file": workspace.FromFile})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default stageline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(workspace.Dir)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func withHistory(ctx context.Context, fn func(context.Context, *history.Recorder) error) error {
	rec, err := workspace.OpenHistory()
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("run history is disabled in %s", config.Path(workspace.Dir))
	}
	defer rec.Close()
	return fn(ctx, rec)
}
