package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/audit"
	"stageline/internal/blocker"
	"stageline/internal/domain"
	"stageline/internal/ingest"
	"stageline/internal/logger"
	"stageline/internal/schema"
)

func validateCmd() *cobra.Command {
	var schemaPath, inputPath, task string
	var blockerOnFail bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSON-lines file against a schema descriptor",
		Long: `Checks every line of --input: blank lines, invalid JSON and missing required fields are errors; fields unknown to the schema are warnings only.
With --blocker-on-fail a failing stream also writes the blocker file naming --task and the input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schemaPath == "" {
				schemaPath = workspace.Config.Paths.Schema
			}
			d, err := schema.Load(workspace.Path(schemaPath))
			if err != nil {
				return err
			}
			f, err := os.Open(workspace.Path(inputPath))
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer f.Close()
			rep, err := schema.Validate(d, f)
			if err != nil {
				return err
			}

			if viper.GetBool("json") {
				if err := printJSON(map[string]any{
					"valid":       rep.Valid(),
					"lines":       rep.Lines,
					"errors":      rep.Errors,
					"warnings":    rep.Warnings,
					"diagnostics": rep.Diagnostics,
				}); err != nil {
					return err
				}
			} else {
				for _, diag := range rep.Diagnostics {
					fmt.Println(diag.String())
				}
				if rep.Valid() {
					fmt.Printf("OK: %d lines, %d warnings\n", rep.Lines, rep.Warnings)
				} else {
					fmt.Printf("FAIL: %d errors, %d warnings in %d lines\n", rep.Errors, rep.Warnings, rep.Lines)
				}
			}
			if rep.Valid() {
				return nil
			}
			if blockerOnFail {
				b := blocker.Blocker{Task: task, Reason: blocker.SchemaInvalid, Inputs: []string{inputPath}}
				if err := blocker.Write(workspace.BlockerPath(), b); err != nil {
					return err
				}
				logger.FromContext(cmd.Context()).Warn("schema gate failed, blocker written", "task", task, "input", inputPath)
			}
			return exitError{code: 1}
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema descriptor (default from config)")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON-lines record stream")
	cmd.Flags().StringVar(&task, "task", "structure", "task named in the blocker file")
	cmd.Flags().BoolVar(&blockerOnFail, "blocker-on-fail", false, "write the blocker file when validation fails")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func ingestCmd() *cobra.Command {
	var allowErrors bool
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Normalize records and append new ones to the knowledge store",
		Long: `Reads a JSON object, a JSON array of objects or JSON lines from file (or stdin when file is omitted or "-").
Rows whose (date, company, product) already exist are skipped; invalid records are counted as errors.
Exits 1 when any record was an error unless --allow-errors is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.FromContext(ctx)
			source := "-"
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				source = args[0]
				f, err := os.Open(workspace.Path(source))
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			records, err := ingest.DecodeRecords(in)
			if err != nil {
				return err
			}

			kb := workspace.Store()
			lock, err := workspace.LockStore(ctx)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			stats, ingestErr := ingest.New(kb, log).Ingest(ctx, records)
			rec, err := workspace.OpenHistory()
			if err != nil {
				log.Warn("run history unavailable", "error", err)
			} else if rec != nil {
				if _, err := rec.RecordIngest(ctx, kb.Path(), source, stats, errors.Is(ingestErr, ingest.ErrStoreWrite)); err != nil {
					log.Warn("ingest not recorded in history", "error", err)
				}
				rec.Close()
			}

			if err := printIngestStats(kb.Path(), stats); err != nil {
				return err
			}
			if ingestErr != nil {
				return exitError{code: 1, err: ingestErr}
			}
			if stats.Errors > 0 && !allowErrors {
				return exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowErrors, "allow-errors", false, "exit 0 even when records were rejected")
	return cmd
}

func printIngestStats(path string, stats domain.IngestStats) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"store": path, "added": stats.Added, "skipped": stats.Skipped, "errors": stats.Errors, "total": stats.Total()})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(path)
	tw.AppendHeader(table.Row{"Added", "Skipped", "Errors", "Total"})
	tw.AppendRow(table.Row{stats.Added, stats.Skipped, stats.Errors, stats.Total()})
	tw.Render()
	return nil
}

func diffCmd() *cobra.Command {
	var oldDir, newDir, out string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Summarize file changes between two artifact trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := audit.Compare(workspace.Path(oldDir), workspace.Path(newDir))
			if err != nil {
				return err
			}
			outPath := workspace.Path(out)
			if err := audit.WriteSummary(outPath, d); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(d)
			}
			fmt.Printf("wrote %s (%d added, %d removed, %d changed)\n", outPath, len(d.Added), len(d.Removed), len(d.Changed))
			return nil
		},
	}
	cmd.Flags().StringVar(&oldDir, "old", "", "previous tree")
	cmd.Flags().StringVar(&newDir, "new", "", "current tree")
	cmd.Flags().StringVar(&out, "out", "AUDIT/diff_summary.md", "summary file")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
