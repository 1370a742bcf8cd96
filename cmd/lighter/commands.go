package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/saltyorg/lighter/internal/auth"
	"github.com/saltyorg/lighter/internal/config"
	"github.com/saltyorg/lighter/internal/database"
	"github.com/saltyorg/lighter/internal/importer"
	"github.com/saltyorg/lighter/internal/logging"
	"github.com/saltyorg/lighter/internal/maintenance"
	"github.com/saltyorg/lighter/internal/records"
	"github.com/saltyorg/lighter/internal/web/handlers"
)

// withStore opens the store for a one-shot command
func withStore(fn func(db *database.DB) error) error {
	logging.Console(verbosity)

	provider := database.NewProvider(resolveDBPath())
	defer provider.Close()

	db, err := provider.Get()
	if err != nil {
		return err
	}
	return fn(db)
}

// withRecords runs fn against a started record service
func withRecords(fn func(ctx context.Context, svc *records.Service) error) error {
	return withStore(func(db *database.DB) error {
		return runRecords(db, fn)
	})
}

func runRecords(db *database.DB, fn func(ctx context.Context, svc *records.Service) error) error {
	cfg := records.DefaultConfig()
	cfg.Workers = 1
	svc := records.New(db, cfg)
	svc.Start()
	defer svc.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, svc)
}

func recordsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List, add, delete or import weight records",
	}

	var ids string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecords(func(ctx context.Context, svc *records.Service) error {
				var (
					list []database.WeightRecord
					err  error
				)
				if ids != "" {
					parsed, parseErr := handlers.ParseIDs(ids)
					if parseErr != nil {
						return parseErr
					}
					list, err = svc.LoadAllByIDs(ctx, parsed)
				} else {
					list, err = svc.GetAll(ctx)
				}
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), list)
			})
		},
	}
	listCmd.Flags().StringVar(&ids, "ids", "", "Comma separated uids to load (e.g., 1,2,3)")

	var (
		weight float64
		day    string
		clock  string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a single record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if day == "" {
				day = now.Format(time.DateOnly)
			}
			if clock == "" {
				clock = now.Format("15:04")
			}
			return withRecords(func(ctx context.Context, svc *records.Service) error {
				inserted, err := svc.InsertAll(ctx, []database.WeightRecord{{Weight: weight, Date: day, Time: clock}})
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), inserted)
			})
		},
	}
	addCmd.Flags().Float64Var(&weight, "weight", 0, "Measured weight")
	addCmd.Flags().StringVar(&day, "date", "", "Measurement date (default: today)")
	addCmd.Flags().StringVar(&clock, "time", "", "Measurement time (default: now)")
	_ = addCmd.MarkFlagRequired("weight")

	deleteCmd := &cobra.Command{
		Use:   "delete UID",
		Short: "Delete a record by uid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid uid %q", args[0])
			}
			return withRecords(func(ctx context.Context, svc *records.Service) error {
				if err := svc.Delete(ctx, database.WeightRecord{UID: uid}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", uid)
				return nil
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import weight,date,time rows from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRecords(func(ctx context.Context, svc *records.Service) error {
				inserted, err := importer.ImportFile(ctx, svc, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(inserted))
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, addCmd, deleteCmd, importCmd)
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the record count, schema version and maintenance plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *database.DB) error {
				var count int
				if err := runRecords(db, func(ctx context.Context, svc *records.Service) error {
					var err error
					count, err = svc.Count(ctx)
					return err
				}); err != nil {
					return err
				}

				schema, err := db.SchemaVersion()
				if err != nil {
					return err
				}
				plan, err := maintenance.NewScheduler(db, config.NewLoader(db)).Preview(time.Now())
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "database\t%s\n", db.Path())
				fmt.Fprintf(w, "size\t%s\n", humanize.Bytes(fileSize(db.Path())))
				fmt.Fprintf(w, "schema\t%d\n", schema)
				fmt.Fprintf(w, "records\t%d\n", count)
				fmt.Fprintf(w, "next optimize\t%s\n", formatNext(plan.NextOptimize))
				fmt.Fprintf(w, "next vacuum\t%s\n", formatNext(plan.NextVacuum))
				return w.Flush()
			})
		},
	}
}

func formatNext(next *time.Time) string {
	if next == nil {
		return maintenance.ScheduleOff
	}
	return fmt.Sprintf("%s (%s)", next.Format(time.DateTime), humanize.Time(*next))
}

func apiKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage the API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Create a new API key, replacing any existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *database.DB) error {
				key, err := auth.NewAPIKeyService(db).Rotate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				fmt.Fprintln(cmd.ErrOrStderr(), "Store this key now; it cannot be shown again.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the API key and disable authentication",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *database.DB) error {
				return auth.NewAPIKeyService(db).Clear()
			})
		},
	})

	return cmd
}

func dbCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "optimize",
		Short: "Refresh query planner statistics and checkpoint the WAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *database.DB) error {
				return maintenance.NewScheduler(db, config.NewLoader(db)).RunOptimize()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file to reclaim space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *database.DB) error {
				before := fileSize(db.Path())
				if err := maintenance.NewScheduler(db, config.NewLoader(db)).RunVacuum(); err != nil {
					return err
				}
				if err := db.Checkpoint(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", humanize.Bytes(before), humanize.Bytes(fileSize(db.Path())))
				return nil
			})
		},
	})

	return cmd
}

func printRecords(out io.Writer, list []database.WeightRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tWEIGHT\tDATE\tTIME")
	for _, r := range list {
		fmt.Fprintf(w, "%d\t%g\t%s\t%s\n", r.UID, r.Weight, r.Date, r.Time)
	}
	return w.Flush()
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
