package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/domain"
	"stageline/internal/logger"
	"stageline/internal/manifest"
	"stageline/internal/notify"
	"stageline/internal/orchestrator"
	"stageline/internal/runlog"
)

func runCmd() *cobra.Command {
	var jobsPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobs of a manifest in order",
		Long: `Runs every job of the manifest in order from the workspace directory.
Each job's inputs must exist (globs must match at least one file) or the run writes the blocker file and exits 1.
A job exiting nonzero stops the run and its exit code becomes the exit code of sl.
Events are appended to <jobs_dir>/<manifest>.log. A command that never exits blocks the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.FromContext(ctx)
			path := workspace.Path(jobsPath)
			jobs, err := manifest.Load(path)
			if err != nil {
				return err
			}

			if workspace.BlockerPresent() {
				log.Warn("blocker from an earlier run is present", "path", workspace.BlockerPath())
			}

			runLog, err := runlog.Open(runlog.PathFor(workspace.JobsDir(), path))
			if err != nil {
				return err
			}
			defer runLog.Close()

			r := &orchestrator.Runner{
				BaseDir:     workspace.Dir,
				Manifest:    jobsPath,
				BlockerPath: workspace.BlockerPath(),
				Log:         runLog,
				Exec:        orchestrator.ProcessRunner{Stdout: os.Stdout, Stderr: os.Stderr},
				Logger:      log,
			}
			rec, err := workspace.OpenHistory()
			if err != nil {
				log.Warn("run history unavailable", "error", err)
			} else if rec != nil {
				defer rec.Close()
				r.History = rec
			}
			if len(workspace.Config.Webhooks) > 0 {
				r.Notifier = notify.NewWebhooks(workspace.Config.Webhooks, log)
			}

			res, runErr := r.Run(ctx, jobs)
			if err := printRunResult(res); err != nil {
				return err
			}
			if runErr != nil {
				return exitError{code: exitCode(res.ExitCode), err: runErr}
			}
			if res.ExitCode != 0 {
				return exitError{code: res.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobsPath, "jobs", "", "job manifest (JSON or YAML)")
	_ = cmd.MarkFlagRequired("jobs")
	return cmd
}

func exitCode(code int) int {
	if code == 0 {
		return 1
	}
	return code
}

func printRunResult(res orchestrator.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "State", "Exit", "Missing"})
	for _, j := range res.Jobs {
		tw.AppendRow(table.Row{j.Task, j.State, j.ExitCode, joinOrDash(j.Missing)})
	}
	tw.Render()
	switch res.Status {
	case domain.RunBlocked:
		fmt.Println("BLOCKER")
	case domain.RunCompleted:
		fmt.Println("jobs complete")
	default:
		fmt.Printf("run %s %s (exit %d)\n", res.RunID, res.Status, res.ExitCode)
	}
	return nil
}
