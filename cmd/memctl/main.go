// Package main is memctl, the operator CLI of the memory engine: migrations, service
// tokens, manual aggregation, recall lookups and retention deletes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/app"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/database"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/logging"
	"github.com/MasterOfDiablo/Ruby-Vtuber/pkg/queue"
)

func main() {
	root := &cobra.Command{
		Use:          "memctl",
		Short:        "Operate the stream memory engine",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd(), tokenCmd(), aggregateCmd(), recallCmd(), deleteCmd(), archiveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := cfg.Log.Options()
	opts.File = "" // keep CLI runs out of the server's log file
	logger, err := logging.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// withApp runs fn against a fully wired App.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg.Server.StoreBackend = "postgres"
			st, err := store.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			st.Close()
			names, err := database.MigrationNames()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println("applied", n)
			}
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var service, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(service, role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "memctl", "service name carried by the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleReader, "ingest, reader or admin")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var (
		metrics    []string
		start, end string
		enqueue    bool
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate analytics for a window [start, end)",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			to, err := time.Parse(time.RFC3339, end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if len(metrics) == 0 {
					metrics = a.Config.Analytics.MetricTypes
				}
				if enqueue {
					if a.Queue == nil {
						return fmt.Errorf("--enqueue needs redis")
					}
					return a.Queue.EnqueueAnalyticsWindow(ctx, queue.AnalyticsWindowPayload{Metrics: metrics, Start: from.UTC(), End: to.UTC()})
				}
				res := a.Analytics.AggregateWindow(ctx, metrics, from.UTC(), to.UTC())
				failed := make([]string, 0, len(res.Failed))
				for mt, err := range res.Failed {
					failed = append(failed, mt+": "+err.Error())
				}
				sort.Strings(failed)
				if err := printJSON(map[string]interface{}{"analytics": res.Analytics, "failed": failed}); err != nil {
					return err
				}
				return res.Err()
			})
		},
	}
	cmd.Flags().StringSliceVar(&metrics, "metric", nil, "metric types (default: all configured)")
	cmd.Flags().StringVar(&start, "start", "", "window start, RFC3339")
	cmd.Flags().StringVar(&end, "end", "", "window end, RFC3339")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the window to the worker instead")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func recallCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "recall", Short: "Query what the memory holds"}

	var limit int
	viewer := &cobra.Command{
		Use:   "viewer <username>",
		Short: "Show a viewer's profile and recent interactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, err := a.Recall.RecallViewer(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	viewer.Flags().IntVar(&limit, "limit", 0, "interactions to show")

	var q models.MomentQuery
	moments := &cobra.Command{
		Use:   "moments",
		Short: "Search game events and highlights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, err := a.Recall.RecallGameMoment(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(r)
			})
		},
	}
	moments.Flags().StringVar(&q.Text, "text", "", "free text")
	moments.Flags().StringVar(&q.EventType, "event-type", "", "game event type")
	moments.Flags().StringVar(&q.HighlightType, "highlight-type", "", "highlight type")
	moments.Flags().IntVar(&q.Limit, "limit", 0, "results per kind")

	cmd.AddCommand(viewer, moments)
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "delete", Short: "Remove sessions or viewer profiles"}
	session := func(kind string, del func(ctx context.Context, a *app.App, id uuid.UUID) error) *cobra.Command {
		return &cobra.Command{
			Use:   kind + " <id>",
			Short: "Delete an ended " + kind + " session and everything recorded under it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid session id: %w", err)
				}
				return withApp(cmd, func(ctx context.Context, a *app.App) error {
					if err := del(ctx, a, id); err != nil {
						return err
					}
					fmt.Println("deleted", kind, id)
					return nil
				})
			},
		}
	}
	viewer := &cobra.Command{
		Use:   "viewer <username>",
		Short: "Delete a viewer profile; their interactions stay, unlinked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Interactions.Forget(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted viewer", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(
		session("game", func(ctx context.Context, a *app.App, id uuid.UUID) error { return a.Games.Delete(ctx, id) }),
		session("stream", func(ctx context.Context, a *app.App, id uuid.UUID) error { return a.Streams.Delete(ctx, id) }),
		viewer,
	)
	return cmd
}

func archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <game|stream> <id>",
		Short: "Write an ended session's snapshot to object storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Archive == nil {
					return fmt.Errorf("archive needs s3; set AWS_REGION")
				}
				res, err := a.Archive.Archive(ctx, queue.SessionKind(args[0]), id)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}
