package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wudi/splitpdf/observability"
	"github.com/wudi/splitpdf/server"
)

func newServeCommand(flags *globalFlags, stderr io.Writer) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the split operation over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd, stderr)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts := server.Options{
				Split:        cfg.SplitOptions(logger),
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				Logger:       logger,
				CacheTTL:     cfg.Server.Cache.TTL,
			}
			if cfg.Server.JWTSecret != "" {
				opts.JWTSecret = []byte(cfg.Server.JWTSecret)
			}
			if cc := cfg.Server.Cache; cc.RedisAddr != "" {
				cache := server.NewRedisCache(server.RedisConf{Addr: cc.RedisAddr, Password: cc.RedisPassword, DB: cc.RedisDB})
				defer cache.Close()
				if err := cache.Ping(ctx); err != nil {
					logger.Warn("result cache unreachable; continuing without it", observability.Error("error", err))
				} else {
					opts.Cache = cache
				}
			}
			return server.Serve(ctx, cfg.Server.Addr, server.NewRouter(opts), logger)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")
	return cmd
}
