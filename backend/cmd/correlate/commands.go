package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"osintgraph/backend/internal/collector"
	"osintgraph/backend/internal/correlation"
	"osintgraph/backend/internal/graph"
	"osintgraph/backend/internal/observation"
	"osintgraph/backend/internal/queue"
	"osintgraph/backend/internal/state"
	"osintgraph/backend/pkg/config"
	"osintgraph/backend/pkg/logger"
)

// report is what run and fetch --correlate print
type report struct {
	Profiles      []*collector.Profile  `json:"profiles,omitempty"`
	Result        *state.IngestResult   `json:"result,omitempty"`
	Clusters      []state.Cluster       `json:"clusters,omitempty"`
	Relationships []*state.Relationship `json:"relationships,omitempty"`
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "correlate",
		Short:         "Correlate OSINT observations into entities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				return logger.Init(cfg.Env)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "log to stderr")

	getConfig := func() *config.Config { return cfg }
	root.AddCommand(newRunCmd(getConfig), newFetchCmd(getConfig), newPublishCmd(getConfig))
	return root
}

func newRunCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		input         string
		minConfidence float64
		persist       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a batch of observations and print the resulting clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if !cmd.Flags().Changed("min-confidence") {
				minConfidence = cfg.MinConfidence
			}

			batch, err := readBatch(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			engine, closeStore, err := openEngine(ctx, cfg, persist)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := engine.Ingest(ctx, batch)
			if err != nil {
				return err
			}
			return writeReport(ctx, cmd.OutOrStdout(), engine, report{Result: result}, minConfidence)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON file of observations, - for stdin")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum edge confidence for clustering (default from config)")
	cmd.Flags().BoolVar(&persist, "persist", false, "load from and save to the configured store")
	return cmd
}

func newFetchCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		platform  string
		rate      float64
		correlate bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch public profile pages and print what they reveal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if !cmd.Flags().Changed("rate") {
				rate = cfg.FetchRateLimit
			}
			fetcher := collector.NewFetcher(nil, rate, 1)
			log := logger.Named("cli")

			var (
				profiles []*collector.Profile
				batch    []observation.RawObservation
			)
			now := time.Now().UTC()
			for _, u := range args {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				p, err := fetcher.Fetch(ctx, platform, u)
				cancel()
				if err != nil {
					log.Warn("Skipping profile", zap.String("url", u), zap.Error(err))
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", u, err)
					continue
				}
				profiles = append(profiles, p)
				batch = append(batch, p.Observations(now)...)
			}
			if len(profiles) == 0 {
				return fmt.Errorf("no profile could be fetched")
			}

			out := report{Profiles: profiles}
			if !correlate {
				return writeJSON(cmd.OutOrStdout(), out)
			}

			engine, err := correlation.New(cfg.EngineConfig())
			if err != nil {
				return err
			}
			out.Result, err = engine.Ingest(cmd.Context(), batch)
			if err != nil {
				return err
			}
			return writeReport(cmd.Context(), cmd.OutOrStdout(), engine, out, cfg.MinConfidence)
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform the pages belong to")
	cmd.Flags().Float64Var(&rate, "rate", 0, "requests per second per host (default from config)")
	cmd.Flags().BoolVar(&correlate, "correlate", false, "correlate the fetched profiles")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-page timeout")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newPublishCmd(getConfig func() *config.Config) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Send a batch of observations to the ingest queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig()
			if cfg.AMQPURL == "" {
				return fmt.Errorf("AMQP_URL is not set")
			}

			batch, err := readBatch(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			conn, err := queue.Dial(cfg.AMQPURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return fmt.Errorf("failed to open channel: %w", err)
			}
			defer ch.Close()

			if err := queue.SetupQueues(ch, cfg.IngestQueue, 0); err != nil {
				return err
			}
			if err := queue.Publish(cmd.Context(), ch, cfg.IngestQueue, batch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d observations to %s\n", len(batch), cfg.IngestQueue)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "JSON file of observations, - for stdin")
	return cmd
}

func readBatch(stdin io.Reader, path string) ([]observation.RawObservation, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read observations: %w", err)
	}
	return queue.DecodeBatch(data)
}

// openEngine builds an engine, backed by the configured store when persist is set
func openEngine(ctx context.Context, cfg *config.Config, persist bool) (*correlation.Engine, func(), error) {
	if !persist {
		engine, err := correlation.New(cfg.EngineConfig())
		return engine, func() {}, err
	}

	store, err := graph.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { store.Close() }

	engine, err := correlation.New(cfg.EngineConfig(), correlation.WithStore(store))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if err := engine.Hydrate(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return engine, closeStore, nil
}

func writeReport(ctx context.Context, w io.Writer, engine *correlation.Engine, out report, minConfidence float64) error {
	clusters, err := engine.Clusters(ctx, minConfidence)
	if err != nil {
		return err
	}
	out.Clusters = clusters
	out.Relationships = engine.Relationships()
	return writeJSON(w, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
