package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mechaenetia/mechaenetia"
	"github.com/mechaenetia/mechaenetia/internal/config"
)

func main() {
	if err := buildRoot(os.Stdout).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunFlags holds the flags of the root command. Set flags override the
// config file.
type RunFlags struct {
	ConfigDir  string
	LogLevel   string
	NoServer   bool
	NoClient   bool
	Client     string
	LoadGame   string
	StatusAddr string
}

func buildRoot(console io.Writer) *cobra.Command {
	flags := &RunFlags{}
	root := &cobra.Command{
		Use:   "mechaenetia",
		Short: "Mechaenetia game engine",
		Long: `Runs the Mechaenetia engine with an in-process local server.

Examples:
  mechaenetia                                  # run with ./config
  mechaenetia --load-game saves/world          # seed or load a save
  mechaenetia --no-client --status-addr :7878  # headless with status endpoint
  mechaenetia save init saves/world            # write a default save config`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := mechaenetia.Run(ctx, cfg, console); err != nil {
				return fmt.Errorf("failed to run the engine: %w", err)
			}
			return nil
		},
	}
	root.SetOut(console)

	addRunFlags(root, flags)
	root.AddCommand(createSaveCommand(console))
	return root
}

func addRunFlags(root *cobra.Command, flags *RunFlags) {
	root.PersistentFlags().StringVarP(&flags.ConfigDir, "config-dir", "c", mechaenetia.DefaultConfigDir, "directory holding mechaenetia.toml and logs")
	root.Flags().StringVarP(&flags.LogLevel, "log-level", "l", "", "override log level: debug, info, warn, error")
	root.Flags().BoolVar(&flags.NoServer, "no-server", false, "do not include the local server")
	root.Flags().BoolVar(&flags.NoClient, "no-client", false, "run without a client (same as --client=none)")
	root.Flags().StringVar(&flags.Client, "client", "", "client type: logger or none")
	root.Flags().StringVar(&flags.LoadGame, "load-game", "", "save directory to load; a missing config is generated instead (the logger client then exits)")
	root.Flags().StringVar(&flags.StatusAddr, "status-addr", "", "serve /status and /metrics on this address")
}

func loadConfig(cmd *cobra.Command, flags *RunFlags) (config.Config, error) {
	cfg, err := mechaenetia.LoadConfig(flags.ConfigDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading config: %w", err)
	}
	f := cmd.Flags()
	if f.Changed("log-level") {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.NoServer {
		cfg.Engine.IncludeServer = false
	}
	if f.Changed("client") {
		cfg.Engine.Client = flags.Client
	}
	if flags.NoClient {
		cfg.Engine.Client = config.ClientNone
	}
	if f.Changed("load-game") {
		cfg.Engine.LoadGame = flags.LoadGame
	}
	if f.Changed("status-addr") {
		cfg.Status.Addr = flags.StatusAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}
