// dropforge - autonomous dropshipping campaign pipeline.
//
// Discovers trending product candidates, scores them under an evolving
// strategy, turns accepted candidates into ad campaigns with generated
// creatives, and learns new scoring weights from campaign profit.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dropforge/internal/config"
	"dropforge/internal/creative"
	"dropforge/internal/discovery"
	"dropforge/internal/logging"
	"dropforge/internal/pipeline"
	"dropforge/internal/store"
	"dropforge/internal/types"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dropforge",
	Short: "dropforge - self-evolving dropshipping campaign pipeline",
	Long: `dropforge discovers trending products, scores them under a
versioned weight strategy, launches ad campaigns with generated
creatives for the candidates you accept, and evolves the scoring
weights from observed campaign profit.

Run 'dropforge serve' to start the API, or 'dropforge review' for the
interactive candidate queue.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ws := resolveWorkspace()
		if err := logging.Initialize(ws); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// loadConfig reads the workspace config with env overrides applied.
func loadConfig() (*config.Config, error) {
	return config.Load(resolveWorkspace())
}

// disabledGenerator stands in when no Gemini key is configured.
// Launches still work; their generation attempts fail upstream, which
// surfaces in the campaign's failure reason instead of at boot.
type disabledGenerator struct{}

func (disabledGenerator) Generate(ctx context.Context, req creative.Request) (creative.Asset, error) {
	return creative.Asset{}, types.Upstreamf(
		fmt.Errorf("no creative provider configured"),
		"set GEMINI_API_KEY to enable creative generation")
}

// buildService assembles the pipeline from config. The caller owns
// both returned closers.
func buildService(ctx context.Context, cfg *config.Config) (*pipeline.Service, *store.Store, error) {
	db, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	var source discovery.Source
	switch {
	case cfg.Discovery.Provider == "static":
		source = discovery.NewStaticSource(nil)
	case cfg.Discovery.APIKey != "":
		source, err = discovery.NewLinkupSource(cfg.Discovery.BaseURL, cfg.Discovery.APIKey, cfg.DiscoveryTimeout())
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	default:
		logger.Warn("no LINKUP_API_KEY set, using the static fixture source")
		source = discovery.NewStaticSource(nil)
	}

	var gen creative.Generator
	if cfg.Creative.APIKey != "" {
		gen, err = creative.NewGeminiGenerator(ctx, cfg.Creative)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	} else {
		logger.Warn("no GEMINI_API_KEY set, campaigns will fail creative generation")
		gen = disabledGenerator{}
	}

	svc, err := pipeline.NewService(cfg, db, source, gen)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, db, nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	// Add commands to root
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(evolveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
