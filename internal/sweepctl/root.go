// Package sweepctl implements the sweepctl command-line tool. Each command
// runs one sweep synchronously and prints its summary as JSON.
package sweepctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dalemusser/respondentpro/internal/app/bootstrap"
	"github.com/dalemusser/waffle/config"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Global flags. Each one overrides the loaded config only when given.
var (
	verbose         bool
	mongoURI        string
	mongoDatabase   string
	upstreamBaseURL string
	poolSize        int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sweepctl",
	Short: "Run project cache sweeps by hand",
	Long: `sweepctl runs the stale cache refresh, the session keep-alive and
single-user refreshes synchronously, printing each summary as JSON.

Configuration is loaded the same way as the server: config files, .env
and RESPONDENTPRO_* environment variables. The flags below override it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI (overrides mongo_uri)")
	rootCmd.PersistentFlags().StringVar(&mongoDatabase, "mongo-database", "", "MongoDB database name (overrides mongo_database)")
	rootCmd.PersistentFlags().StringVar(&upstreamBaseURL, "upstream-base-url", "", "Respondent API base URL (overrides upstream_base_url)")
	rootCmd.PersistentFlags().IntVar(&poolSize, "workers", 0, "Users processed concurrently (overrides worker_pool_size)")

	rootCmd.AddCommand(cacheRefreshCmd, refreshAllUsersCmd, sessionKeepAliveCmd, refreshOneCmd, statsCmd)
}

// loadConfig runs the server's config loader. WAFFLE parses os.Args as its
// own flags, so it sees only the program name; cobra owns the command line.
func loadConfig(logger *zap.Logger) (*config.CoreConfig, bootstrap.AppConfig, error) {
	args := os.Args
	os.Args = args[:1]
	defer func() { os.Args = args }()
	return bootstrap.LoadConfig(logger)
}

// applyFlags overlays the global flags that were set on cfg. The
// in-process scheduler is always off here.
func applyFlags(cfg bootstrap.AppConfig, root *cobra.Command) bootstrap.AppConfig {
	set := root.PersistentFlags().Changed
	if set("mongo-uri") {
		cfg.MongoURI = mongoURI
	}
	if set("mongo-database") {
		cfg.MongoDatabase = mongoDatabase
	}
	if set("upstream-base-url") {
		cfg.UpstreamBaseURL = upstreamBaseURL
	}
	if set("workers") {
		cfg.WorkerPoolSize = poolSize
	}
	cfg.SchedulerEnabled = false
	return cfg
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// withServices connects to MongoDB, builds the services and runs fn.
func withServices(ctx context.Context, fn func(ctx context.Context, svc *bootstrap.Services) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	coreCfg, cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = applyFlags(cfg, rootCmd)
	if err := bootstrap.ValidateConfig(coreCfg, cfg, logger); err != nil {
		return err
	}
	defaultMaxAge = cfg.CacheMaxAge

	deps, err := bootstrap.ConnectDB(ctx, coreCfg, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = deps.MongoClient.Disconnect(context.Background()) }()

	svc, err := bootstrap.NewServices(deps.MongoDatabase, cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
