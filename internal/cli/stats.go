package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/store"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show user statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := readConfig(ctx)
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg.Database, nil)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, err := store.NewUserStore(pool, log).Stats(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printStats(w io.Writer, s *domain.UserStats) {
	fmt.Fprintf(w, "%s %d\n", title("Users:       "), s.TotalUsers)
	fmt.Fprintf(w, "%s %d\n", title("Active today:"), s.ActiveToday)

	if len(s.TopUsers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, title("Most active"))
		for i, u := range s.TopUsers {
			name := u.Username
			if u.PersonalName != "" {
				name = fmt.Sprintf("%s (%s)", u.Username, u.PersonalName)
			}
			fmt.Fprintf(w, "  %2d. %-32s %d\n", i+1, name, u.MessageCount)
		}
	}

	if len(s.Languages) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, title("Languages"))
		for _, lang := range slices.Sorted(maps.Keys(s.Languages)) {
			fmt.Fprintf(w, "  %-6s %d\n", lang, s.Languages[lang])
		}
	}
}
