package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apversus/sauai/internal/domain"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var (
		username string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question from the terminal",
		Long: "Ask runs a question through the same pipeline as the chat channels: " +
			"the user and session are stored, so follow-up questions keep their context.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			in := domain.MessageInput{
				Username: username,
				Text:     strings.Join(args, " "),
				Origin:   domain.OriginCLI,
			}
			if name != "" {
				in.Platform = &domain.PlatformAttributes{FirstName: name}
			}

			resp := a.router.Process(ctx, in)
			if resp.Kind == domain.KindError {
				return errors.New(resp.Content)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "cli", "username the conversation is stored under")
	cmd.Flags().StringVar(&name, "name", "", "first name to record for a new user")

	return cmd
}
