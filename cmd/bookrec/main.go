// Bookrec serves book and reading-goal recommendations.
//
// Usage:
//
//	# Start the HTTP API (and the batch scheduler when enabled)
//	bookrec serve
//
//	# One-off runs against the configured database
//	bookrec recommend books --user 42
//	bookrec recommend goals --persist
//
// Configuration comes from an optional YAML file (--config), a .env file
// and environment variables, in increasing precedence.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/bookrec/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	envFile    string

	// cfg is populated by the root command before any subcommand runs.
	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bookrec",
	Short: "Book and reading-goal recommendation service",
	Long: `bookrec recommends books by blending catalog similarity with
collaborative filtering, and coaches reading goals from session history.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies the dotenv file, then reads file and environment.
// A missing default .env is fine; a missing explicit one is not.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("env-file") {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	loaded, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "bookrec\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
