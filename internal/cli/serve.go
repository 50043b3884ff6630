package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/apversus/sauai/internal/channel"
	"github.com/apversus/sauai/internal/channel/irc"
	"github.com/apversus/sauai/internal/channel/telegram"
	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/gateway"
	"github.com/apversus/sauai/internal/version"
	"github.com/spf13/cobra"
)

// drainTimeout bounds how long in-flight messages may finish after a signal.
const drainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		noWeb bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web API and the configured chat channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Web.Host = host
			}
			if port != 0 {
				cfg.Web.Port = port
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			log.Info().Str("version", version.Version).Msg("starting SAÚ AI")

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				a.Close(drainCtx)
			}()

			channels := newChannels(cfg.Channels)
			a.router.Wire(channels)
			channels.StartAll(ctx)
			defer channels.StopAll(context.Background())

			web := cfg.Web.IsEnabled() && !noWeb
			if !web && channels.Count() == 0 {
				return fmt.Errorf("nothing to serve: web API disabled and no channels configured")
			}
			if !web {
				log.Info().Strs("channels", channels.List()).Msg("serving chat channels only")
				<-ctx.Done()
				return nil
			}

			srv, err := gateway.New(cfg.Web, gateway.Deps{
				Chat:     a.router,
				Users:    a.users,
				DB:       a.pool,
				Channels: channels,
				Hooks:    a.hooks,
			}, log)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "override the web API host")
	cmd.Flags().IntVar(&port, "port", 0, "override the web API port")
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "serve chat channels only")

	return cmd
}

// newChannels registers every chat transport present in cfg.
func newChannels(cfg config.ChannelsConfig) *channel.Registry {
	reg := channel.NewRegistry(log)
	if cfg.Telegram != nil && cfg.Telegram.Token != "" {
		reg.Register(telegram.New(*cfg.Telegram, log))
	}
	if cfg.IRC != nil && cfg.IRC.Server != "" {
		reg.Register(irc.New(*cfg.IRC, log))
	}
	return reg
}
