package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"wgnet/pkg/agent"
	"wgnet/pkg/api"
	"wgnet/pkg/config"
	"wgnet/pkg/iface"
	"wgnet/pkg/logging"
	"wgnet/pkg/model"
	"wgnet/pkg/platform"
	"wgnet/pkg/version"
	"wgnet/pkg/wireguard"
)

var (
	configPath string
	initInvite string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agent",
		Short:        "Keep this node's tunnel interfaces converged with the coordinator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultNodePath, "agent config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.Flags().StringVar(&initInvite, "init", "", "redeem this invite before starting")
	root.AddCommand(versionCmd(), showCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "agent "+version.Current().String())
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the locally known interfaces in wg-quick form, keys hidden",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadNode(configPath)
			if err != nil {
				return err
			}
			ifaces, err := config.LoadIfaceDir(cfg.IfaceConfigDir)
			if err != nil {
				return err
			}
			if len(ifaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no interfaces in "+cfg.IfaceConfigDir)
				return nil
			}
			for _, c := range ifaces {
				fmt.Fprintln(cmd.OutOrStdout(), wireguard.Render(c, true))
			}
			return nil
		},
	}
}

func newLogger(cfg *config.Node) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.LogFormat})
}

func run(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "err", err)
	}
	cfg, err := config.LoadNode(configPath)
	if err != nil {
		slog.Error("load config failed", "path", configPath, "err", err)
		return err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)
	log.Info("agent starting", "name", cfg.Name, "version", version.Build, "config", configPath)

	var inv *config.Invite
	if initInvite != "" {
		decoded, err := config.DecodeInvite(initInvite)
		if err != nil {
			log.Error("invalid invite", "err", err)
			return err
		}
		inv = &decoded
		cfg.Server = decoded.ServerSocket
	}
	if cfg.Server == "" {
		err := errors.New("no coordinator address; start once with --init <invite>")
		log.Error("cannot start", "err", err)
		return err
	}

	var clientOpts []api.ClientOption
	if cfg.TLSCA != "" {
		tlsCfg, err := api.ClientTLSConfig(cfg.TLSCA, "", "")
		if err != nil {
			log.Error("tls config failed", "err", err)
			return err
		}
		clientOpts = append(clientOpts, api.WithTLS(tlsCfg))
	}
	dial := func(server string) agent.Coordinator {
		return api.NewClient(server, cfg.Timeout(), clientOpts...)
	}

	backend := config.RuntimeBackend(cfg.Backend, log)
	dev, err := wireguard.New(backend, log)
	if err != nil {
		log.Error("open device driver failed", "backend", string(backend), "err", err)
		return err
	}
	defer dev.Close()
	applier := platform.New(log)

	var reporters []agent.Reporter
	if cfg.StateDB != "" {
		j, err := agent.OpenJournal(cfg.StateDB, log)
		if err != nil {
			log.Error("open journal failed", "path", cfg.StateDB, "err", err)
			return err
		}
		defer j.Close()
		reporters = append(reporters, j)
	}
	if cfg.Events {
		server := cfg.Server
		if cfg.TLSCA != "" && !strings.Contains(server, "://") {
			server = "https://" + server
		}
		ev, err := agent.NewEvents(server, cfg.Name, "", log)
		if err != nil {
			log.Error("event stream setup failed", "err", err)
			return err
		}
		go ev.Run(ctx)
		reporters = append(reporters, ev)
	}

	a := agent.New(agent.Options{
		Coord: dial(cfg.Server),
		Factory: func(c model.InterfaceConfig) agent.Interface {
			return iface.New(c, dev, applier, log)
		},
		Interval:    cfg.Interval(),
		Concurrency: cfg.Concurrency,
		Reporters:   reporters,
		Log:         log,
	})

	if inv != nil {
		if err := redeem(ctx, a, *inv, cfg, dial, log); err != nil {
			return err
		}
	} else {
		cfgs, err := config.LoadIfaceDir(cfg.IfaceConfigDir)
		if err != nil {
			log.Error("load interfaces failed", "dir", cfg.IfaceConfigDir, "err", err)
			return err
		}
		if err := a.Track(cfgs); err != nil {
			log.Error("load interfaces failed", "dir", cfg.IfaceConfigDir, "err", err)
			return err
		}
		log.Info("interfaces loaded", "dir", cfg.IfaceConfigDir, "count", len(cfgs))
	}

	err = a.Run(ctx)
	log.Info("agent stopped")
	return err
}

// redeem consumes the invite, persists the returned interfaces and
// remembers the coordinator address. Any failure ends the process.
func redeem(ctx context.Context, a *agent.Agent, inv config.Invite, cfg *config.Node, dial agent.Dial, log *slog.Logger) error {
	cfgs, err := a.Redeem(ctx, inv, dial)
	if err != nil {
		log.Error("invite redemption failed", "server", inv.ServerSocket, "stage", "redeem", "err", err)
		return err
	}
	for _, c := range cfgs {
		path, err := config.SaveIface(cfg.IfaceConfigDir, c)
		if err != nil {
			log.Error("save interface failed", "iface", c.Name, "err", err)
			return err
		}
		log.Info("interface saved", "iface", c.Name, "path", path)
	}
	if err := config.SaveNode(configPath, *cfg); err != nil {
		log.Error("save config failed", "path", configPath, "err", err)
		return err
	}
	return nil
}
