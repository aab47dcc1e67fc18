package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stash/internal/config"
	"stash/internal/feed"
	"stash/internal/logging"
	"stash/internal/realtime"
	"stash/internal/remote"
	"stash/internal/server"
	"stash/internal/storage"
	"stash/internal/ui"
)

type app struct {
	configPath string
	cfg        config.Config
}

func (a *app) load() error {
	if a.configPath == "" {
		a.configPath = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) client() (*remote.Client, error) {
	return remote.New(a.cfg.RemoteURL)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "stash",
		Short:         "Read-it-later list with swipe actions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), a)
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config.toml (default $"+config.EnvConfigPath+" or the user config dir)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAddCmd(a))
	cmd.AddCommand(newListCmd(a))
	return cmd
}

func runTUI(ctx context.Context, a *app) error {
	logCfg := logging.Config{Level: a.cfg.Log.Level, File: a.cfg.Log.File}
	if logCfg.File == "" {
		// The alt screen owns the terminal.
		logCfg.File = filepath.Join(filepath.Dir(a.configPath), "stash.log")
	}
	log, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := a.client()
	if err != nil {
		return err
	}
	channel, err := realtime.ChannelURL(client.BaseURL())
	if err != nil {
		return err
	}
	sub := &realtime.Subscriber{URL: channel, Log: log}
	return ui.Run(ctx, ui.New(a.cfg, client, ui.WithLogger(log)), sub)
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the item server and realtime channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, closeLog, err := logging.New(logging.Config{Level: a.cfg.Log.Level, File: a.cfg.Log.File})
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := storage.Open(a.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(store,
				server.WithLogger(log),
				server.WithPageSize(a.cfg.PageSize),
				server.WithRejectRate(a.cfg.Server.RejectRate, time.Now().UnixNano()))
			return srv.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr from the config)")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <url|text>",
		Short: "Capture a URL or note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			it := realtime.Capture(uuid.NewString(), strings.Join(args, " "), time.Now())
			if err := client.Create(cmd.Context(), it); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), it.ID)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var filter string
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "Print items newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter == "" {
				filter = a.cfg.DefaultFilter
			}
			f, err := feed.ParseFilter(filter)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			page, err := client.Query(cmd.Context(), f, 0, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			now := time.Now()
			for _, it := range page.Items {
				star := " "
				if it.Starred {
					star = "*"
				}
				fmt.Fprintf(out, "%s %s  %s  (%s)\n", star, it.ID, it.Title(), humanize.RelTime(it.CreatedAt, now, "ago", "from now"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "active, starred, archived or all")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of items")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "stash: %v\n", err)
		stop()
		os.Exit(1)
	}
}
