package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/botvisr/pkg/client"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	api := apiCommand{flags: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(api),
		createStopCommand(api),
		createRestartCommand(api),
		createStatusCommand(api),
		createBotsCommand(api),
		createLogsCommand(api),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "botvisr",
		Short: "Bot process supervisor",
		Long: `botvisr runs Telegram and Discord bots as supervised child processes,
restarts them when they crash and exposes an HTTP API to manage them.

Examples:
  botvisr serve config.toml                     # Start the daemon
  botvisr bots add --name relay --kind telegram_bot --set token=123:abc
  botvisr start --id <bot-id>
  botvisr status                                # All tracked bots
  botvisr logs --id <bot-id> --lines 50
  botvisr status --api-url=http://remote:8080/api/v1`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", envOr("BOTVISR_API_URL", client.DefaultConfig().BaseURL),
		"daemon API base URL")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "API request timeout")
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
