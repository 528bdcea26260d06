// Command forge turns informal math and physics problems into verified
// Lean code. The run subcommand solves a single problem; batch processes
// a JSON-lines dataset and streams an incremental summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proofforge/internal/compiler"
	"proofforge/internal/config"
	"proofforge/internal/grounding"
	"proofforge/internal/knowledge"
	"proofforge/internal/libsearch"
	"proofforge/internal/logging"
	"proofforge/internal/pipeline"
	"proofforge/internal/reasoning"
	"proofforge/internal/synthesis"
)

var (
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Formalize informal math and physics into verified Lean",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if verbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}

			level := cfg.Logging.Level
			if verbose {
				level = "debug"
			}
			if err := logging.Initialize(cfg.Output.Dir, level); err != nil {
				return err
			}
			logging.Boot("forge starting, output dir %s", cfg.Output.Dir)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAll()
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "forge.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newRunCmd(), newBatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "run <problem>",
		Short: "Formalize a single problem statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, store, err := buildRunner()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx, stop := signalContext()
			defer stop()

			result := runner.Solve(ctx, 0, args[0], imagePath)
			logger.Info("run finished",
				zap.String("status", result.Status),
				zap.Bool("compilation_passed", result.CompilationPassed),
				zap.Bool("semantic_passed", result.SemanticPassed),
				zap.String("consistency", result.ConsistencyLevel))
			if result.Status == pipeline.StatusError {
				return fmt.Errorf("run failed: %s", result.Error)
			}
			fmt.Println(result.GeneratedCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "path to an accompanying figure")
	return cmd
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <dataset.jsonl>",
		Short: "Formalize every problem in a JSON-lines dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems, err := pipeline.LoadProblems(args[0])
			if err != nil {
				return err
			}
			logger.Info("dataset loaded", zap.Int("problems", len(problems)))

			runner, store, err := buildRunner()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			ctx, stop := signalContext()
			defer stop()

			results, err := runner.RunBatch(ctx, problems)
			if err != nil {
				return err
			}

			compiled, aligned := 0, 0
			for _, r := range results {
				if r.CompilationPassed {
					compiled++
				}
				if r.SemanticPassed {
					aligned++
				}
			}
			logger.Info("batch finished",
				zap.Int("problems", len(results)),
				zap.Int("compiled", compiled),
				zap.Int("aligned", aligned))
			return nil
		},
	}
	return cmd
}

// buildRunner wires the pipeline from config. The knowledge store is
// optional; everything else is required.
func buildRunner() (*pipeline.Runner, *knowledge.Store, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, nil, fmt.Errorf("no API key in $%s", cfg.LLM.APIKeyEnv)
	}

	strict := reasoning.NewChatClient(reasoning.ChatConfig{
		APIKey:      apiKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.StrictTemperature,
		Timeout:     cfg.LLMTimeout(),
	})
	creative := reasoning.NewChatClient(reasoning.ChatConfig{
		APIKey:      apiKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.CreativeTemperature,
		Timeout:     cfg.LLMTimeout(),
	})
	engine, err := reasoning.NewEngine(strict, creative)
	if err != nil {
		return nil, nil, err
	}

	searcher := libsearch.NewClient(libsearch.Config{
		BaseURL:    cfg.Search.BaseURL,
		NumResults: cfg.Search.NumResults,
		Timeout:    cfg.SearchTimeout(),
		MaxRetries: cfg.Search.MaxRetries,
		RetryDelay: cfg.SearchRetryDelay(),
	})
	prober := grounding.NewProbe(searcher, engine)

	comp, err := compiler.NewLakeCompiler(compiler.Config{
		ProjectDir: cfg.Compiler.ProjectDir,
		Timeout:    cfg.CompileTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}

	var store *knowledge.Store
	if cfg.Knowledge.Enabled {
		store, err = knowledge.Open(cfg.Knowledge.DBPath)
		if err != nil {
			return nil, nil, err
		}
	}

	synthCfg := synthesis.Config{
		Workers:     cfg.Synthesis.Workers,
		Attempts:    cfg.Synthesis.Attempts,
		BaseImports: cfg.Synthesis.BaseImports,
	}
	return pipeline.New(engine, prober, comp, store, synthCfg, cfg.Output.Dir), store, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
