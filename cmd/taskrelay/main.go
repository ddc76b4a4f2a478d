package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/taskrelay/pkg/backend"
	"github.com/zen-systems/taskrelay/pkg/batch"
	"github.com/zen-systems/taskrelay/pkg/config"
	"github.com/zen-systems/taskrelay/pkg/registry"
	"github.com/zen-systems/taskrelay/pkg/relay"
	"github.com/zen-systems/taskrelay/pkg/task"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	mockFlag   bool
	debugFlag  bool
	statsFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskrelay",
		Short: "Multi-backend request orchestration with health-aware routing",
		Long: `Taskrelay routes abstract tasks across interchangeable inference
backends, preferring the healthiest candidate, failing over on error,
and aggregating latency and cost statistics per run.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "use deterministic mock backends (no network)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&statsFlag, "stats", false, "print a metrics summary after the run")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(backendsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var kindFlag, complexityFlag string
	var maxUnits int
	var citations bool

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Execute a single task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := buildTask(kindFlag, complexityFlag, maxUnits, citations)
			if err != nil {
				return err
			}

			svc, logger, err := buildService()
			if err != nil {
				return err
			}
			defer logger.Sync()

			prompt := strings.Join(args, " ")
			out, err := svc.ExecuteTask(cmd.Context(), prompt, desc)
			if err != nil {
				return err
			}

			fmt.Println(out.Content)
			fmt.Fprintf(os.Stderr, "\n[backend=%s latency=%.0fms units=%d cost=%.4f]\n",
				out.BackendID, out.Metadata.LatencyMs, out.Metadata.EstimatedUnits, out.Metadata.EstimatedCost)
			maybePrintStats(svc)
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "generation", "task kind (analysis|summary|extraction|generation|classification)")
	cmd.Flags().StringVar(&complexityFlag, "complexity", "simple", "task complexity (simple|moderate|complex)")
	cmd.Flags().IntVar(&maxUnits, "max-units", 0, "cap on response size in output units (0 = no cap)")
	cmd.Flags().BoolVar(&citations, "citations", false, "require cited sources")
	return cmd
}

// batchItem is one line of a batch input file.
type batchItem struct {
	Prompt            string `json:"prompt"`
	Kind              string `json:"kind"`
	Complexity        string `json:"complexity"`
	MaxOutputUnits    int    `json:"max_output_units,omitempty"`
	RequiresCitations bool   `json:"requires_citations,omitempty"`
}

func batchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Execute tasks from a JSON-lines file with bounded concurrency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := readBatchFile(args[0])
			if err != nil {
				return err
			}

			svc, logger, err := buildService()
			if err != nil {
				return err
			}
			defer logger.Sync()

			results, err := svc.RunBatch(cmd.Context(), items, limit)
			if err != nil {
				return err
			}

			failures := 0
			for i, r := range results {
				if r.Failed() {
					failures++
					fmt.Printf("[%d] FAILED: %v\n", i, r.Failure.Err)
					continue
				}
				fmt.Printf("[%d] %s (backend=%s)\n", i, firstLine(r.Outcome.Content), r.Outcome.BackendID)
			}
			fmt.Fprintf(os.Stderr, "\n%d/%d items succeeded\n", len(results)-failures, len(results))
			maybePrintStats(svc)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", batch.DefaultConcurrencyLimit, "concurrency ceiling per group")
	return cmd
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := buildService()
			if err != nil {
				return err
			}
			defer logger.Sync()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tCOST/UNIT\tAVAILABLE\tCAPABILITIES")
			for _, d := range svc.Backends() {
				caps := make([]string, 0, len(d.Capabilities))
				for tag := range d.Capabilities {
					caps = append(caps, tag)
				}
				fmt.Fprintf(w, "%s\t%d\t%.4f\t%t\t%s\n",
					d.ID, d.Priority, d.CostPerUnit, d.Available, strings.Join(caps, ","))
			}
			return w.Flush()
		},
	}
}

func buildTask(kind, complexity string, maxUnits int, citations bool) (task.Descriptor, error) {
	k, err := task.ParseKind(kind)
	if err != nil {
		return task.Descriptor{}, err
	}
	c, err := task.ParseComplexity(complexity)
	if err != nil {
		return task.Descriptor{}, err
	}
	return task.Descriptor{
		Kind:              k,
		Complexity:        c,
		MaxOutputUnits:    maxUnits,
		RequiresCitations: citations,
	}, nil
}

func buildService() (*relay.Service, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger()

	reg := registry.New()
	clients := make(map[string]backend.Client)
	for _, bc := range cfg.Backends {
		client, err := buildClient(cfg, bc)
		if err != nil {
			logger.Warn("skipping backend", zap.String("backend", bc.ID), zap.Error(err))
			continue
		}

		caps := make(map[string]bool, len(bc.Capabilities))
		for _, tag := range bc.Capabilities {
			caps[tag] = true
		}
		if err := reg.Register(registry.Descriptor{
			ID:           bc.ID,
			Priority:     bc.Priority,
			CostPerUnit:  bc.CostPerUnit,
			Capabilities: caps,
		}); err != nil {
			return nil, nil, err
		}
		clients[bc.ID] = client
	}

	svc, err := relay.New(reg, clients,
		relay.WithLogger(logger),
		relay.WithInvokeTimeout(time.Duration(cfg.InvokeTimeoutSeconds)*time.Second),
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}

func buildClient(cfg *config.Config, bc config.BackendConfig) (backend.Client, error) {
	if mockFlag {
		return backend.NewMockClient(bc.ID), nil
	}

	switch bc.ID {
	case "anthropic":
		return backend.NewAnthropicClient(cfg.AnthropicAPIKey, bc.Model)
	case "openai":
		return backend.NewOpenAIClient(cfg.OpenAIAPIKey, bc.Model)
	case "google":
		return backend.NewGoogleClient(cfg.GoogleAPIKey, bc.Model)
	default:
		return nil, fmt.Errorf("unknown backend id %q", bc.ID)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debugFlag {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}

func readBatchFile(path string) ([]batch.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var items []batch.Item
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var raw batchItem
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		desc, err := buildTask(
			valueOr(raw.Kind, "generation"),
			valueOr(raw.Complexity, "simple"),
			raw.MaxOutputUnits,
			raw.RequiresCitations,
		)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, batch.Item{Prompt: raw.Prompt, Task: desc})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func maybePrintStats(svc *relay.Service) {
	if !statsFlag {
		return
	}
	m := svc.Metrics()
	fmt.Fprintf(os.Stderr, "requests=%d succeeded=%d failed=%d success_rate=%.2f avg_latency=%.0fms est_cost=%.4f\n",
		m.TotalRequests, m.SuccessfulRequests, m.FailedRequests, m.SuccessRate, m.AvgLatencyMs, m.EstimatedTotalCost)
}
