package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/botvisr/pkg/client"
)

// apiCommand runs client commands against the daemon.
type apiCommand struct {
	flags *GlobalFlags
}

func (a apiCommand) client(ctx context.Context) (*client.Client, error) {
	c := client.New(client.Config{BaseURL: a.flags.APIUrl, Timeout: a.flags.APITimeout})
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start it first with 'botvisr serve'", a.flags.APIUrl)
	}
	return c, nil
}

// IDFlags selects a bot.
type IDFlags struct {
	ID    string
	Force bool
}

func requireID(f *IDFlags) error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("--id is required")
	}
	return nil
}

func createStartCommand(a apiCommand) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID(f); err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.StartBot(cmd.Context(), f.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "bot id")
	return cmd
}

func createStopCommand(a apiCommand) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID(f); err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.StopBot(cmd.Context(), f.ID, f.Force)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "bot id")
	cmd.Flags().BoolVar(&f.Force, "force", false, "kill immediately instead of SIGTERM first")
	return cmd
}

func createRestartCommand(a apiCommand) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID(f); err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.RestartBot(cmd.Context(), f.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "bot id")
	return cmd
}

func createStatusCommand(a apiCommand) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of one bot, or of every tracked bot without --id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if f.ID == "" {
				all, err := c.AllStatus(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), all)
			}
			st, err := c.Status(cmd.Context(), f.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "bot id")
	return cmd
}

// AddFlags holds flags for bots add.
type AddFlags struct {
	Name        string
	Kind        string
	Set         []string
	AutoRestart bool
}

func createBotsCommand(a apiCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Manage bot records",
	}

	add := &AddFlags{}
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new bot (created stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseSettings(add.Set)
			if err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.CreateBot(cmd.Context(), client.CreateRequest{
				Name:        add.Name,
				Kind:        add.Kind,
				Config:      cfg,
				AutoRestart: &add.AutoRestart,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	addCmd.Flags().StringVar(&add.Name, "name", "", "unique bot name")
	addCmd.Flags().StringVar(&add.Kind, "kind", "", "telegram_userbot, telegram_bot or discord_bot")
	addCmd.Flags().StringArrayVar(&add.Set, "set", nil, "config entry key=value (repeatable)")
	addCmd.Flags().BoolVar(&add.AutoRestart, "auto-restart", true, "restart the bot when it crashes")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("kind")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List bot records",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			bots, err := c.ListBots(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), bots)
		},
	}

	rm := &IDFlags{}
	rmCmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete a stopped bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireID(rm); err != nil {
				return err
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteBot(cmd.Context(), rm.ID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", rm.ID)
			return err
		},
	}
	rmCmd.Flags().StringVar(&rm.ID, "id", "", "bot id")

	cmd.AddCommand(addCmd, listCmd, rmCmd)
	return cmd
}

// LogsFlags holds flags for logs.
type LogsFlags struct {
	ID    string
	Lines int
}

func createLogsCommand(a apiCommand) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of a bot's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.ID) == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			lines, err := c.Tail(cmd.Context(), f.ID, f.Lines)
			if err != nil {
				return err
			}
			for _, l := range lines {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), l); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "bot id")
	cmd.Flags().IntVar(&f.Lines, "lines", 100, "number of lines")
	return cmd
}

// parseSettings turns key=value pairs into a bot config map.
func parseSettings(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
