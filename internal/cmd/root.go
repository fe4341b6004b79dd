// Package cmd implements the crosspost command line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"crosspost/internal/config"
	"crosspost/internal/platform"
	"crosspost/internal/poster"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

var rootCmd = &cobra.Command{
	Use:   "crosspost",
	Short: "Cross-post markdown articles to dev.to and Hashnode",
	Long: `crosspost publishes markdown files with YAML frontmatter to multiple
blogging platforms, keeping track of what was posted where so later runs
update instead of duplicating.

Credentials come from the config file or from DEVTO_API_KEY, HASHNODE_TOKEN
and HASHNODE_PUBLICATION_ID environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	rootConfigPath string
	rootLogLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "crosspost.yaml", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override log level (trace|debug|info|warn|error)")
}

// Execute runs the CLI. The caller supplies the process context so signal
// cancellation reaches every command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// app bundles the services most commands need. close releases them in
// reverse construction order.
type app struct {
	cfg    *config.Config
	logSvc *logx.Service
	log    logx.Logger
	store  storage.Store
	poster *poster.Service
}

func buildApp() (*app, error) {
	cfg, err := config.Load(rootConfigPath, true)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if rootLogLevel != "" {
		level = rootLogLevel
	}
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	logSvc, log := logx.New(logx.Config{
		Level:   level,
		Console: console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File != "", Path: cfg.Logging.File},
	})

	storeCfg, err := cfg.StorageConfig()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log)
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	clients, opts := buildClients(cfg)
	if len(clients) == 0 {
		if store != nil {
			store.Close()
		}
		logSvc.Close()
		return nil, fmt.Errorf("no platforms configured: set credentials in %s or the environment", rootConfigPath)
	}
	opts = append(opts, poster.WithLogger(log))
	if store != nil {
		opts = append(opts, poster.WithStore(store))
	}

	return &app{
		cfg:    cfg,
		logSvc: logSvc,
		log:    log,
		store:  store,
		poster: poster.New(clients, opts...),
	}, nil
}

func buildClients(cfg *config.Config) ([]platform.Client, []poster.Option) {
	var clients []platform.Client
	var opts []poster.Option

	if d := cfg.Platforms.Devto; d != nil {
		var devtoOpts []platform.DevtoOption
		if d.Organization != 0 {
			devtoOpts = append(devtoOpts, platform.WithDevtoOrganization(d.Organization))
		}
		clients = append(clients, platform.NewDevto(d.APIKey, devtoOpts...))
		if d.RatePerSec > 0 {
			opts = append(opts, poster.WithRateLimit("devto", d.RatePerSec))
		}
	}
	if h := cfg.Platforms.Hashnode; h != nil {
		clients = append(clients, platform.NewHashnode(h.Token, h.PublicationID))
		if h.RatePerSec > 0 {
			opts = append(opts, poster.WithRateLimit("hashnode", h.RatePerSec))
		}
	}
	return clients, opts
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	a.logSvc.Close()
}
