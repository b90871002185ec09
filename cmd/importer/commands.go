package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/domain"
	"github.com/rpattn/stagedimport/internal/importer"
	"github.com/rpattn/stagedimport/internal/report"
	"github.com/rpattn/stagedimport/internal/repository"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseBatchID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid batch id %q: %w", arg, err)
	}
	return id, nil
}

func parseInstitution(value string) (uuid.NullUUID, error) {
	if strings.TrimSpace(value) == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.NullUUID{}, fmt.Errorf("invalid --institution: %w", err)
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if down > 0 {
				return db.RollbackMigrations(opts.cfg.Database, down)
			}
			return db.RunMigrations(opts.cfg.Database)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Revert this many migrations instead of applying")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		user        string
		institution string
		target      string
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Stage a spreadsheet and print inferred column suggestions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := parseInstitution(institution)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer file.Close()

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.service.Ingest(ctx, importer.IngestRequest{
					UserID:        user,
					InstitutionID: inst,
					TargetType:    target,
					FileName:      filepath.Base(args[0]),
					Data:          file,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Uploading user (required)")
	cmd.Flags().StringVar(&institution, "institution", "", "Institution UUID; empty uses the global scope")
	cmd.Flags().StringVar(&target, "target", "academic_record", "Target record type")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newConfirmCmd(opts *rootOptions) *cobra.Command {
	var (
		pairs       map[string]string
		mappingFile string
	)
	cmd := &cobra.Command{
		Use:   "confirm <batch-id>",
		Short: "Confirm the column mapping of a staged batch",
		Long: "Mappings are HEADER=TARGET pairs, e.g. --map CODIGO=STUDENT_CODE --map MATEMATICAS=SUBJECT:Matemáticas,\n" +
			"or a JSON object in --mapping-file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			mapping := domain.ColumnMap{}
			if mappingFile != "" {
				data, err := os.ReadFile(mappingFile)
				if err != nil {
					return fmt.Errorf("read mapping file: %w", err)
				}
				if err := json.Unmarshal(data, &mapping); err != nil {
					return fmt.Errorf("decode mapping file: %w", err)
				}
			}
			for header, field := range pairs {
				mapping[strings.ToUpper(strings.TrimSpace(header))] = strings.TrimSpace(field)
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				batch, err := a.service.ConfirmMapping(ctx, importer.ConfirmRequest{BatchID: id, Mapping: mapping})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), batch)
			})
		},
	}
	cmd.Flags().StringToStringVar(&pairs, "map", nil, "HEADER=TARGET mapping (repeatable)")
	cmd.Flags().StringVar(&mappingFile, "mapping-file", "", "JSON file with a header to target object")
	return cmd
}

func newExecuteCmd(opts *rootOptions) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "execute <batch-id>",
		Short: "Import a READY batch into versioned records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.service.Execute(ctx, importer.ExecuteRequest{BatchID: id, Period: period})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().IntVar(&period, "period", 0, "Academic period (year) the grades belong to (required)")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func newRevertCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <batch-id>",
		Short: "Undo an executed batch and restore previous record versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rep, err := a.rollback.Revert(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Print a batch with its log and any duplicate uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				batch, err := a.service.GetBatch(ctx, id)
				if err != nil {
					return err
				}
				duplicates, err := a.service.FindDuplicates(ctx, id)
				if err != nil {
					return err
				}
				duplicateIDs := make([]uuid.UUID, 0, len(duplicates))
				for _, d := range duplicates {
					duplicateIDs = append(duplicateIDs, d.ID)
				}
				return printJSON(cmd.OutOrStdout(), struct {
					domain.ImportBatch
					Duplicates []uuid.UUID `json:"duplicates"`
				}{batch, duplicateIDs})
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		statuses    []string
		user        string
		institution string
		limit       uint64
		offset      uint64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := parseInstitution(institution)
			if err != nil {
				return err
			}
			filter := repository.BatchFilter{UserID: user, InstitutionID: inst, Limit: limit, Offset: offset}
			for _, s := range statuses {
				status := domain.BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				batches, err := a.service.ListBatches(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), batches)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVar(&user, "user", "", "Filter by uploading user")
	cmd.Flags().StringVar(&institution, "institution", "", "Filter by institution UUID")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "Maximum number of batches")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Number of batches to skip")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "report <batch-id>",
		Short: "Export the rows of a batch that carry errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				batch, err := a.service.GetBatch(ctx, id)
				if err != nil {
					return err
				}
				rows, err := a.service.ListRowErrors(ctx, id)
				if err != nil {
					return err
				}

				path := out
				if path == "" {
					path = report.FileName(batch, f)
				}
				file, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create %s: %w", path, err)
				}
				n, err := report.Write(file, f, batch, rows)
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return errors.Wrapf(err, "failed to write report %s", path)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows (%d bytes) to %s\n", len(rows), n, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: derived from the batch file name)")
	return cmd
}
