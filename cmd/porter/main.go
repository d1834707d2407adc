package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"htmlporter/internal/commands"
	"htmlporter/internal/config"
	"htmlporter/internal/logging"
	"htmlporter/internal/propagate"
	"htmlporter/internal/registry"
	"htmlporter/internal/ux"
	"htmlporter/internal/workspace"
)

var (
	// Global flags
	verbose    bool
	workspaceF string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "porter",
	Short: "porter - keep shared HTML fragments in sync across files",
	Long: `porter embeds reusable HTML templates into other files between marker
comments and keeps every copy in sync with its source.

  <!-- TEMPLATE_START: partials/nav.html -->
  ...
  <!-- TEMPLATE_END: partials/nav.html -->

Register a template with "porter add", insert it with "porter use", and run
"porter watch" to propagate edits and deletions as they happen.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceF, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/"+config.DefaultPath+")")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(untargetCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the components every subcommand needs.
type app struct {
	cfg     *config.Config
	cfgPath string // absolute
	root   workspace.Root
	store  *registry.Store
	engine *propagate.Engine
	notify ux.Notifier
	svc    *commands.Service
}

// newApp resolves the workspace, loads configuration, initializes logging
// and wires the registry, engine and command service.
func newApp(cmd *cobra.Command, picker ux.Picker) (*app, error) {
	notify := ux.NewTerminal(cmd.OutOrStdout())

	root, err := workspace.New(workspaceF)
	if err != nil {
		notify.Error("No workspace folder found.")
		return nil, err
	}

	path := root.Abs(config.DefaultPath)
	if configPath != "" {
		if path, err = filepath.Abs(configPath); err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	if logger == nil {
		if err := logging.Initialize(cfg.Logging.Options(root.Dir(), verbose)); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Base()
	} else {
		logging.SetBase(logger, cfg.Logging.Categories)
	}
	logging.Get(logging.CategoryBoot).Debugw("workspace resolved", "root", root.Dir(), "config", path)

	store := registry.Open(root, cfg.RegistryPath)
	engine := propagate.New(store, propagate.WithMaxConcurrentWrites(cfg.GetMaxConcurrentWrites()))

	return &app{
		cfg:     cfg,
		cfgPath: path,
		root:    root,
		store:  store,
		engine: engine,
		notify: notify,
		svc:    commands.New(cfg, store, engine, notify, picker),
	}, nil
}
