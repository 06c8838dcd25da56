package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/turtacn/Lingua/internal/monitor"
	"github.com/turtacn/Lingua/internal/orchestrator"
	"github.com/turtacn/Lingua/internal/resource"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/fsm"
	"github.com/turtacn/Lingua/pkg/logger"
	"github.com/turtacn/Lingua/pkg/protocol"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

var (
	cfgFile      string
	addonID      string
	addonVersion string
)

var rootCmd = &cobra.Command{
	Use:           "lingua",
	Short:         "Lingua: a script invocation host",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the invocation host until interrupted (SIGHUP reloads scripts)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.InitLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
		monitor.InitMetrics(cfg.Observability.MetricsPort)

		logger.Log.Info("Booting Lingua invocation host...", "service", cfg.Service.Name, "version", Version)

		engine, err := orchestrator.NewEngine(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := engine.Start(ctx); err != nil {
			engine.Shutdown()
			return err
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-hup:
				logger.Log.Info("Signal: SIGHUP received. Releasing reusable workers.")
				engine.Reload()
			case <-ctx.Done():
				logger.Log.Info("Signal: Stop received. Shutting down.")
				return engine.Shutdown()
			}
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run <script> [args...]",
	Short: "Run a single script to completion",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.InitLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

		var a *addon.Addon
		if addonID != "" {
			if a, err = addon.New(addonID, addonID, addonVersion); err != nil {
				return err
			}
		}

		engine, err := orchestrator.NewEngine(cfg)
		if err != nil {
			return err
		}
		defer engine.Shutdown()

		st, err := engine.RunSync(args[0], args[1:], a)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], st)
		if st != fsm.StateExecutionDone {
			return fmt.Errorf("script %s ended in state %s", args[0], st)
		}
		return nil
	},
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "List the scripts under the configured root",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		names, err := resource.NewScriptStore(afero.NewOsFs(), cfg.Scripts.Root).List()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lingua %s\n", Version)
	},
}

// loadConfig reads the config file, or falls back to defaults and
// environment overrides when the default file does not exist.
func loadConfig() (*protocol.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		return protocol.LoadDefaults()
	}
	return protocol.Load(cfgFile)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "lingua.yaml", "config file path")
	runCmd.Flags().StringVar(&addonID, "addon", "", "bind the run to this addon id")
	runCmd.Flags().StringVar(&addonVersion, "addon-version", "0.0.0", "version of the bound addon")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scriptsCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
