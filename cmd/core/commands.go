package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/catalogsync/internal/app"
	"github.com/kimhsiao/catalogsync/internal/config"
	"github.com/kimhsiao/catalogsync/internal/logging"
	"github.com/kimhsiao/catalogsync/internal/models"
)

// cli carries the flags shared by every command and the container factory.
type cli struct {
	configPath string
	envFile    string
	jsonOutput bool

	build func(ctx context.Context, cfg *config.Config) (*app.Container, error)
}

func defaultCLI() *cli {
	return &cli{
		build: func(ctx context.Context, cfg *config.Config) (*app.Container, error) {
			return app.New(ctx, cfg)
		},
	}
}

// container loads configuration, initializes logging and builds the
// application. The caller closes it.
func (c *cli) container(ctx context.Context) (*app.Container, error) {
	if err := config.LoadDotEnv(c.envFiles()...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.File != "" {
		logging.InitWithFile(logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}, level)
	} else {
		logging.Init(os.Stderr, level)
	}

	return c.build(ctx, cfg)
}

func (c *cli) envFiles() []string {
	if c.envFile == "" {
		return nil
	}
	return []string{c.envFile}
}

// withContainer runs fn with a freshly built container.
func (c *cli) withContainer(fn func(cmd *cobra.Command, ctr *app.Container, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctr, err := c.container(cmd.Context())
		if err != nil {
			return err
		}
		defer ctr.Close()
		return fn(cmd, ctr, args)
	}
}

func (c *cli) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if c.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "catalogsync",
		Short:         "Offline queue and sync core for the product catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default: ./catalogsync.yaml if present)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "Environment file (default: ./.env if present)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Output results as JSON")

	root.AddCommand(
		newVersionCmd(),
		newSyncCmd(c),
		newForceSyncCmd(c),
		newReplayCmd(c),
		newStatusCmd(c),
		newQueueCmd(c),
		newCacheCmd(c),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "catalogsync v%s\n", Version)
		},
	}
}

// =====================================================
// Sync commands
// =====================================================

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull products, categories and brands changed since the last sync",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), ctr.Config.Sync.Timeout)
			defer cancel()
			return printSync(c, cmd.OutOrStdout(), ctr.Manager.SyncAll(ctx))
		}),
	}
}

func newForceSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "force-sync",
		Short: "Forget sync timestamps and pull every collection in full",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), ctr.Config.Sync.Timeout)
			defer cancel()
			return printSync(c, cmd.OutOrStdout(), ctr.Manager.ForceFullSync(ctx))
		}),
	}
}

func printSync(c *cli, w io.Writer, result interface {
	Total() int
}) error {
	return c.print(w, result, func(w io.Writer) {
		fmt.Fprintf(w, "%d items synchronized\n", result.Total())
	})
}

func newReplayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay queued offline actions against the backend",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			result, err := ctr.Catalog.ReplayPending(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				fmt.Fprintf(w, "replayed: %d succeeded, %d failed, %d dead-lettered, %d pending\n",
					result.Success, result.Failed, result.Dropped, ctr.Queue.Count())
			})
		}),
	}
}

// =====================================================
// Status
// =====================================================

type entityStatus struct {
	Entity   models.Entity `json:"entity"`
	Cached   int           `json:"cached"`
	Pending  int           `json:"pending"`
	LastSync *time.Time    `json:"lastSync,omitempty"`
	Version  int           `json:"version"`
}

type statusReport struct {
	Reachable   bool           `json:"reachable"`
	Pending     int            `json:"pending"`
	DeadLetters int            `json:"deadLetters"`
	Entities    []entityStatus `json:"entities"`
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, dead letters and per-entity sync state",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			report := statusReport{
				Reachable:   ctr.Remote.Ping(ctx) == nil,
				Pending:     ctr.Queue.Count(),
				DeadLetters: len(ctr.Queue.DeadLetters()),
			}
			cached := map[models.Entity]int{
				models.EntityProduct:  len(ctr.Catalog.Products("")),
				models.EntityCategory: len(ctr.Catalog.Categories("")),
				models.EntityBrand:    len(ctr.Catalog.Brands("")),
			}
			for _, entity := range models.Entities {
				md := ctr.Manager.Metadata(entity)
				report.Entities = append(report.Entities, entityStatus{
					Entity:   entity,
					Cached:   cached[entity],
					Pending:  len(ctr.Queue.ActionsForEntity(entity)),
					LastSync: md.LastSync,
					Version:  md.Version,
				})
			}

			return c.print(cmd.OutOrStdout(), report, func(w io.Writer) {
				fmt.Fprintf(w, "backend reachable: %v\n", report.Reachable)
				fmt.Fprintf(w, "pending actions:   %d\n", report.Pending)
				fmt.Fprintf(w, "dead letters:      %d\n\n", report.DeadLetters)

				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ENTITY\tCACHED\tPENDING\tVERSION\tLAST SYNC")
				for _, e := range report.Entities {
					last := "never"
					if e.LastSync != nil {
						last = e.LastSync.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", e.Entity, e.Cached, e.Pending, e.Version, last)
				}
				tw.Flush()
			})
		}),
	}
}

// =====================================================
// Queue administration
// =====================================================

func newQueueCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline queue",
	}

	var entityFlag string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			actions := ctr.Queue.Actions()
			if entityFlag != "" {
				entity, err := models.ParseEntity(entityFlag)
				if err != nil {
					return err
				}
				actions = ctr.Queue.ActionsForEntity(entity)
			}
			return c.print(cmd.OutOrStdout(), actions, func(w io.Writer) {
				printActions(w, actions)
			})
		}),
	}
	list.Flags().StringVar(&entityFlag, "entity", "", "Only list actions for this entity (product, category, brand)")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued action",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			n := ctr.Queue.Count()
			ctr.Queue.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "%d actions discarded\n", n)
			return nil
		}),
	}

	deadLetters := &cobra.Command{
		Use:   "dead-letters",
		Short: "List actions abandoned after exhausting their retries",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			letters := ctr.Queue.DeadLetters()
			return c.print(cmd.OutOrStdout(), letters, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tFAILED AT\tLAST ERROR")
				for _, dl := range letters {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						dl.Action.ID, dl.Action.Entity, dl.Action.Type, dl.FailedAt, dl.Action.LastError)
				}
				tw.Flush()
			})
		}),
	}

	requeue := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a dead-lettered action back to the tail of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			if !ctr.Queue.RequeueDeadLetter(args[0]) {
				return fmt.Errorf("no dead letter with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
			return nil
		}),
	}

	purge := &cobra.Command{
		Use:   "purge-dead-letters",
		Short: "Discard every dead-lettered action",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%d dead letters discarded\n", ctr.Queue.ClearDeadLetters())
			return nil
		}),
	}

	cmd.AddCommand(list, clearCmd, deadLetters, requeue, purge)
	return cmd
}

func printActions(w io.Writer, actions []models.QueuedAction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tTYPE\tQUEUED AT\tRETRIES\tLAST ERROR")
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Entity, a.Type, a.Timestamp, a.RetryCount, a.LastError)
	}
	tw.Flush()
}

// =====================================================
// Cache administration
// =====================================================

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local entity cache",
	}

	reset := &cobra.Command{
		Use:   "reset [entity...]",
		Short: "Drop cached rows and sync metadata (all entities when none given)",
		RunE: c.withContainer(func(cmd *cobra.Command, ctr *app.Container, args []string) error {
			entities := models.Entities
			if len(args) > 0 {
				entities = nil
				for _, arg := range args {
					entity, err := models.ParseEntity(arg)
					if err != nil {
						return err
					}
					entities = append(entities, entity)
				}
			}
			for _, entity := range entities {
				ctr.Cache.Reset(entity)
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", entity)
			}
			return nil
		}),
	}

	cmd.AddCommand(reset)
	return cmd
}
