// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/chatvec"
	"github.com/poiesic/chatvec/ai"
	"github.com/poiesic/chatvec/api"
	"github.com/poiesic/chatvec/ingestion"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/reembed"
	"github.com/poiesic/chatvec/storage/redis"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chatvec",
		Usage: "Incrementally sync chat logs into a vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"CHATVEC_LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Sync a talker: full on first run, incremental afterwards",
				Action: syncCommand,
				Flags: append(serviceFlags(),
					talkerFlag(),
					&cli.StringFlag{
						Name:  "time",
						Usage: "Time range (YYYY-MM-DD or YYYY-MM-DD~YYYY-MM-DD); omit for an incremental run",
					},
					&cli.BoolFlag{
						Name:  "incremental",
						Usage: "Only sync records newer than the checkpoint; fail if there is none",
					},
				),
			},
			{
				Name:   "checkpoints",
				Usage:  "List synced talkers",
				Action: checkpointsCommand,
				Flags: append(serviceFlags(),
					&cli.StringFlag{
						Name:    "talker",
						Aliases: []string{"t"},
						Usage:   "Only show this talker",
					},
				),
			},
			{
				Name:   "delete",
				Usage:  "Delete a talker's vectors, checkpoint and auto-sync enrollment",
				Action: deleteCommand,
				Flags:  append(serviceFlags(), talkerFlag()),
			},
			{
				Name:  "autosync",
				Usage: "Manage scheduled incremental sync",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List enrolled talkers",
						Action: autoSyncListCommand,
						Flags:  serviceFlags(),
					},
					{
						Name:   "enable",
						Usage:  "Enroll a talker",
						Action: autoSyncSetCommand(true),
						Flags:  append(serviceFlags(), talkerFlag()),
					},
					{
						Name:   "disable",
						Usage:  "Remove a talker",
						Action: autoSyncSetCommand(false),
						Flags:  append(serviceFlags(), talkerFlag()),
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed stored documents with the configured embedding model",
				Action: reembedCommand,
				Flags: append(serviceFlags(),
					&cli.StringFlag{
						Name:    "talker",
						Aliases: []string{"t"},
						Usage:   "Only re-embed this talker (default: all talkers)",
					},
					&cli.IntFlag{
						Name:  "reembed-batch-size",
						Usage: "Documents per embedding request",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Attempts per batch",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: time.Second,
					},
				),
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the auto-sync scheduler",
				Action: serveCommand,
				Flags: append(serviceFlags(),
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "HTTP listen port",
						Value:   api.DefaultPort,
						EnvVars: []string{"CHATVEC_PORT"},
					},
					&cli.StringFlag{
						Name:    "api-token",
						Usage:   "Bearer token required on /api routes",
						EnvVars: []string{"CHATVEC_API_TOKEN"},
					},
					&cli.DurationFlag{
						Name:    "auto-sync-interval",
						Usage:   "Interval between scheduled incremental syncs (0 disables)",
						Value:   ingestion.DefaultAutoSyncInterval,
						EnvVars: []string{"CHATVEC_AUTO_SYNC_INTERVAL"},
					},
					&cli.StringFlag{
						Name:    "nats-url",
						Usage:   "Publish progress events to this NATS server",
						EnvVars: []string{"CHATVEC_NATS_URL"},
					},
					&cli.StringFlag{
						Name:    "nats-token",
						Usage:   "NATS auth token",
						EnvVars: []string{"CHATVEC_NATS_TOKEN"},
					},
				),
			},
		},
	}
}

func talkerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "talker",
		Aliases:  []string{"t"},
		Usage:    "Chat room or contact id",
		Required: true,
	}
}

// serviceFlags are shared by every command that opens the service.
func serviceFlags() []cli.Flag {
	def := ai.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "chatlog-url",
			Usage:   "Chat-log API base URL",
			Value:   "http://127.0.0.1:5030",
			EnvVars: []string{"CHATVEC_CHATLOG_URL"},
		},
		&cli.StringFlag{
			Name:    "state",
			Usage:   "Sync state backend (badger, redis)",
			Value:   chatvec.StateBadger,
			EnvVars: []string{"CHATVEC_STATE"},
		},
		&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Path to BadgerDB directory (empty keeps state in memory)",
			Value:   "chatvec-state",
			EnvVars: []string{"CHATVEC_DB"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address",
			Value:   redis.DefaultConfig().Addr,
			EnvVars: []string{"CHATVEC_REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			EnvVars: []string{"CHATVEC_REDIS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			EnvVars: []string{"CHATVEC_REDIS_DB"},
		},
		&cli.DurationFlag{
			Name:    "processed-ttl",
			Usage:   "How long processed records are remembered for dedup",
			Value:   24 * time.Hour,
			EnvVars: []string{"CHATVEC_PROCESSED_TTL"},
		},
		&cli.StringFlag{
			Name:    "vector-db",
			Usage:   "SQLite DSN for the vector store",
			Value:   chatvec.DefaultVectorDSN,
			EnvVars: []string{"CHATVEC_VECTOR_DB"},
		},
		&cli.StringFlag{
			Name:    "embedding-provider",
			Usage:   "Embedding provider (" + strings.Join(ai.Providers, ", ") + ")",
			Value:   def.Provider,
			EnvVars: []string{"CHATVEC_EMBEDDING_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   def.EmbeddingHost,
			EnvVars: []string{"CHATVEC_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   def.EmbeddingModel,
			EnvVars: []string{"CHATVEC_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "Embedding service API key",
			EnvVars: []string{"CHATVEC_API_KEY"},
		},
		&cli.IntFlag{
			Name:    "embedding-batch-size",
			Usage:   "Texts per embedding request",
			Value:   def.MaxBatchSize,
			EnvVars: []string{"CHATVEC_EMBEDDING_BATCH_SIZE"},
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Concurrent page fetches and batch commits",
			Value: ingestion.DefaultPoolSize,
		},
		&cli.IntFlag{
			Name:  "page-size",
			Usage: "Records per chat-log page",
			Value: ingestion.DefaultPageSize,
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Records per embedding batch",
			Value: ingestion.DefaultBatchSize,
		},
		&cli.DurationFlag{
			Name:  "request-timeout",
			Usage: "Timeout for each external call",
			Value: ingestion.DefaultRequestTimeout,
		},
		&cli.StringFlag{
			Name:    "checkpoint-policy",
			Usage:   "How the checkpoint advances past failed batches (contiguous, max)",
			Value:   ingestion.PolicyContiguous.String(),
			EnvVars: []string{"CHATVEC_CHECKPOINT_POLICY"},
		},
	}
}

func buildService(c *cli.Context, extra ...chatvec.Option) (*chatvec.Service, error) {
	policy, err := ingestion.ParseCheckpointPolicy(c.String("checkpoint-policy"))
	if err != nil {
		return nil, err
	}

	opts := []chatvec.Option{
		chatvec.WithVectorDSN(c.String("vector-db")),
		chatvec.WithProcessedTTL(c.Duration("processed-ttl")),
		chatvec.WithChatlogTimeout(c.Duration("request-timeout")),
		chatvec.WithAIConfig(ai.NewConfig(
			ai.WithProvider(c.String("embedding-provider")),
			ai.WithEmbeddingHost(c.String("embedding-host")),
			ai.WithEmbeddingModel(c.String("embedding-model")),
			ai.WithAPIKey(c.String("api-key")),
			ai.WithMaxBatchSize(c.Int("embedding-batch-size")),
			ai.WithRequestTimeout(c.Duration("request-timeout")),
		)),
		chatvec.WithPipelineOptions(
			ingestion.WithPoolSize(c.Int("concurrency")),
			ingestion.WithPageSize(c.Int("page-size")),
			ingestion.WithBatchSize(c.Int("batch-size")),
			ingestion.WithRequestTimeout(c.Duration("request-timeout")),
			ingestion.WithCheckpointPolicy(policy),
		),
	}

	switch state := strings.ToLower(c.String("state")); state {
	case chatvec.StateBadger:
		opts = append(opts, chatvec.WithBadgerPath(c.String("db")))
	case chatvec.StateRedis:
		cfg := redis.DefaultConfig()
		cfg.Addr = c.String("redis-addr")
		cfg.Password = c.String("redis-password")
		cfg.DB = c.Int("redis-db")
		opts = append(opts, chatvec.WithRedis(cfg))
	default:
		return nil, fmt.Errorf("%w: %q", chatvec.ErrUnknownStateBackend, state)
	}

	opts = append(opts, extra...)
	return chatvec.NewService(c.Context, c.String("chatlog-url"), opts...)
}

func syncCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	talker := c.String("talker")
	out := c.App.ErrWriter
	reporter := progress.ReporterFunc(func(stage progress.Stage, pct, total, processed int) {
		fmt.Fprintf(out, "[%3d%%] %-10s %d/%d\n", pct, stage, processed, total)
	})

	var res *ingestion.RunResult
	if c.Bool("incremental") || c.String("time") == "" {
		res, err = svc.Syncer().SyncIncremental(ctx, talker, reporter)
	} else {
		res, err = svc.Syncer().Sync(ctx, talker, c.String("time"), reporter)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "talker=%s total=%d eligible=%d processed=%d skippedBatches=%d lastSeq=%d duration=%s\n",
		res.Talker, res.TotalCount, res.Eligible, res.Processed, res.SkippedBatches, res.LastSeq, res.Duration.Round(time.Millisecond))
	return nil
}

func checkpointsCommand(c *cli.Context) error {
	svc, err := buildService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	checkpoints, err := svc.Syncer().Synced(c.Context, c.String("talker"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TALKER\tNAME\tLAST SEQ\tLAST SYNC")
	for _, cp := range checkpoints {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", cp.Talker, cp.TalkerName, cp.LastSeq, cp.LastSyncTime.Format(time.RFC3339))
	}
	return tw.Flush()
}

func deleteCommand(c *cli.Context) error {
	svc, err := buildService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	talker := c.String("talker")
	if err := svc.Syncer().DeleteTalker(c.Context, talker); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", talker)
	return nil
}

func autoSyncListCommand(c *cli.Context) error {
	svc, err := buildService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	talkers, err := svc.Repository().AutoSyncTalkers(c.Context)
	if err != nil {
		return err
	}
	for _, t := range talkers {
		fmt.Fprintln(c.App.Writer, t)
	}
	return nil
}

func autoSyncSetCommand(enabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		svc, err := buildService(c)
		if err != nil {
			return err
		}
		defer svc.Close()

		talker := c.String("talker")
		if err := svc.Repository().SetAutoSync(c.Context, talker, enabled); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "auto sync %s for %s\n", map[bool]string{true: "enabled", false: "disabled"}[enabled], talker)
		return nil
	}
}

func reembedCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	re, err := svc.NewReembedder(&reembed.Config{
		BatchSize:      c.Int("reembed-batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}, c.App.ErrWriter)
	if err != nil {
		return err
	}

	if _, err := re.Run(ctx, c.String("talker")); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(c, chatvec.WithNATS(c.String("nats-url"), c.String("nats-token")))
	if err != nil {
		return err
	}
	defer svc.Close()

	srv, err := svc.NewAPIServer(
		api.WithPort(c.Int("port")),
		api.WithAPIToken(c.String("api-token")),
		api.WithBaseContext(ctx),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(ctx) })

	if interval := c.Duration("auto-sync-interval"); interval > 0 {
		sched, err := svc.NewScheduler(interval)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := sched.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		slog.Info("auto sync disabled")
	}

	return g.Wait()
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
