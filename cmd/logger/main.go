// File: cmd/logger/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/smartdevs17/machine-logger/internal/config"
	"github.com/smartdevs17/machine-logger/internal/logbook"
	"github.com/smartdevs17/machine-logger/internal/output"
	"github.com/smartdevs17/machine-logger/internal/remote"
	"github.com/smartdevs17/machine-logger/internal/storage"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// loadConfig loads the configuration and applies the persistent flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newCLIApplication builds the application for one-shot commands. Logs go to
// stderr so they never mix with rendered output.
func newCLIApplication(cmd *cobra.Command) (*Application, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if !cmd.Flags().Changed("log-level") && !cfg.App.Debug {
		cfg.Logging.Level = "warn"
	}
	return NewApplication(cfg)
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "machine-logger",
	Short:   "Machine cleaning logbook",
	Long:    `Records machine cleaning events in a shared remote logbook and audits them against the 30-day cleaning cycle.`,
	Version: AppVersion,
	RunE:    runServer,
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServer,
}

// runServer is the main command to run the HTTP API
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		app.Close()
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Apply log level changes without a restart
	if path := viper.ConfigFileUsed(); path != "" {
		go func() {
			err := config.Watch(app.ctx, path, func(c *config.Config) {
				if err := utils.SetLogLevel(c.Logging.Level); err != nil {
					app.logger.WithError(err).Warn("Ignoring invalid log level")
				}
			})
			if err != nil {
				app.logger.WithError(err).Warn("Config watcher stopped")
			}
		}()
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// submitCmd records a cleaning event
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record a machine cleaning",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newCLIApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		machine, _ := cmd.Flags().GetString("machine")
		operator, _ := cmd.Flags().GetString("operator")
		date, _ := cmd.Flags().GetString("date")

		renderer, err := output.New("text", cmd.OutOrStdout())
		if err != nil {
			return err
		}

		result, err := app.logbook.Submit(cmd.Context(), logbook.SubmitRequest{
			Machine:  machine,
			Operator: operator,
			Date:     date,
		})
		if err != nil {
			renderer.RenderNotice(app.logbook.Notice())
			return err
		}

		if !result.Ack.Verified {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: the logbook did not confirm the entry")
		}
		return renderer.RenderNotice(result.Notice)
	},
}

// historyCmd prints the derived cleaning history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the cleaning history with audit status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newCLIApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		format, _ := cmd.Flags().GetString("output")
		machine, _ := cmd.Flags().GetString("machine")

		renderer, err := output.New(format, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		history, err := app.logbook.History(cmd.Context(), machine)
		if err != nil {
			renderer.RenderNotice(app.logbook.Notice())
			return err
		}

		if err := renderer.RenderHistory(history); err != nil {
			return err
		}
		if format != "json" {
			return renderer.RenderNotice(app.logbook.Notice())
		}
		return nil
	},
}

// machinesCmd prints the per-machine summary
var machinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "Show the latest cleaning of every machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newCLIApplication(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		format, _ := cmd.Flags().GetString("output")
		renderer, err := output.New(format, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		summaries, err := app.logbook.Machines(cmd.Context())
		if err != nil {
			renderer.RenderNotice(app.logbook.Notice())
			return err
		}
		return renderer.RenderMachines(summaries)
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Machine Logger %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration is valid!\n")
		fmt.Fprintf(out, "Environment: %s\n", cfg.App.Environment)
		fmt.Fprintf(out, "Script URL: %s\n", orNone(cfg.Remote.ScriptURL))
		fmt.Fprintf(out, "Cache: %s\n", cfg.Storage.Type)
		fmt.Fprintf(out, "Webhook: %s\n", orNone(cfg.Notifications.WebhookURL))

		return nil
	},
}

// showConfigCmd prints the effective configuration
var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Testing Machine Logger connectivity...")

		// Test remote logbook
		fmt.Fprintf(out, "Testing remote logbook at %s...\n", orNone(cfg.Remote.ScriptURL))
		client := remote.NewScriptClient(remoteConfig(cfg.Remote), nil)
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.RequestTimeout+5*time.Second)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("remote logbook unreachable: %w", err)
		}
		fmt.Fprintln(out, "✓ Remote logbook reachable")

		// Test storage
		fmt.Fprintf(out, "Testing cache connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("failed to ping storage: %w", err)
		}
		fmt.Fprintln(out, "✓ Cache connection successful")

		fmt.Fprintln(out, "\nAll connectivity tests passed! ✓")
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	submitCmd.Flags().StringP("machine", "m", "", "machine number")
	submitCmd.Flags().StringP("operator", "o", "", "operator name")
	submitCmd.Flags().StringP("date", "d", "", "cleaning date YYYY-MM-DD (default today)")
	submitCmd.MarkFlagRequired("machine")
	submitCmd.MarkFlagRequired("operator")

	historyCmd.Flags().StringP("machine", "m", "", "only show machines whose number contains this text")
	historyCmd.Flags().String("output", "text", "output format (text, json)")
	machinesCmd.Flags().String("output", "text", "output format (text, json)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(machinesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
	configCmd.AddCommand(showConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
