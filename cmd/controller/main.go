package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wgnet/pkg/api"
	"wgnet/pkg/auth"
	"wgnet/pkg/config"
	"wgnet/pkg/db"
	"wgnet/pkg/iface"
	"wgnet/pkg/logging"
	"wgnet/pkg/platform"
	"wgnet/pkg/store"
	"wgnet/pkg/version"
	"wgnet/pkg/wireguard"
)

var (
	configPath string
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
		Use:          "controller",
		Short:        "Serve the mesh coordinator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultCoordinatorPath, "controller config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(inviteCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "controller "+version.Current().String())
		},
	}
}

func newLogger(cfg *config.Coordinator) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Format: cfg.LogFormat})
}

// backing is the store selected by the config plus the optional user table.
type backing struct {
	store store.Store
	users api.Users
}

func openStore(cfg *config.Coordinator, log *slog.Logger) (backing, error) {
	switch strings.ToLower(cfg.Store) {
	case config.StoreConsul:
		st, err := store.NewConsulStore(cfg.ConsulAddr)
		if err != nil {
			return backing{}, fmt.Errorf("consul store: %w", err)
		}
		log.Info("using consul store", "addr", cfg.ConsulAddr)
		return backing{store: st}, nil
	case config.StoreMySQL:
		gdb, err := db.Open(cfg.MySQLDSN)
		if err != nil {
			return backing{}, fmt.Errorf("mysql store: %w", err)
		}
		log.Info("using mysql store")
		return backing{store: db.NewStore(gdb), users: db.NewUsers(gdb)}, nil
	default:
		log.Info("using memory store")
		return backing{store: store.NewMemoryStore()}, nil
	}
}

func serve(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("failed to load .env", "err", err)
	}
	cfg, err := config.LoadCoordinator(configPath)
	if err != nil {
		slog.Error("load config failed", "path", configPath, "err", err)
		return err
	}
	log := newLogger(cfg)
	slog.SetDefault(log)
	log.Info("controller starting", "version", version.Build, "config", configPath)

	b, err := openStore(cfg, log)
	if err != nil {
		log.Error("open store failed", "store", cfg.Store, "err", err)
		return err
	}

	var self *iface.Interface
	var opts api.Options
	if cfg.IfaceConfigPath != "" {
		ifc, err := config.LoadIface(cfg.IfaceConfigPath)
		if err != nil {
			log.Error("load own interface failed", "path", cfg.IfaceConfigPath, "err", err)
			return err
		}
		dev, err := wireguard.New(config.RuntimeBackend(cfg.Backend, log), log)
		if err != nil {
			log.Error("open device driver failed", "err", err)
			return err
		}
		defer dev.Close()
		self = iface.New(ifc, dev, platform.New(log), log)
		opts.Self = self
	}

	hub := api.NewHub(log)
	opts.Hub = hub
	opts.ServerSocket = cfg.ServerSocket()
	opts.Log = log
	coord, err := api.NewCoordinator(b.store, opts)
	if err != nil {
		log.Error("coordinator setup failed", "err", err)
		return err
	}
	coord.Start()

	if w, ok := b.store.(interface {
		StartWatch(context.Context, func())
	}); ok {
		w.StartWatch(ctx, coord.Resync)
	}

	var issuer *auth.Issuer
	if b.users != nil {
		if issuer, err = auth.NewIssuer(cfg.JWTSecret); err != nil {
			log.Error("jwt issuer setup failed", "err", err)
			return err
		}
		if cfg.JWTSecret == "" {
			log.Warn("jwt_secret not set; tokens are invalidated on restart")
		}
	}

	mux := http.NewServeMux()
	(&api.Server{Coord: coord, Hub: hub, AdminToken: cfg.AdminToken, Issuer: issuer, Users: b.users, Log: log}).RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.UseTLS() {
		tlsCfg, err := api.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.ClientCA)
		if err != nil {
			log.Error("tls config failed", "err", err)
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("controller listening", "addr", cfg.Listen, "advertise", cfg.ServerSocket(), "tls", cfg.UseTLS())
		if cfg.UseTLS() {
			errc <- srv.ListenAndServeTLS("", "")
			return
		}
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown failed", "err", err)
		}
	}
	if self != nil {
		if err := self.Down(); err != nil {
			log.Error("own interface down failed", "iface", self.Name(), "err", err)
		}
	}
	log.Info("controller stopped")
	return nil
}
