package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/gateway"
	"github.com/apversus/sauai/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running SAÚ AI server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SAÚ AI %s (commit %s)\n\n", version.Version, version.Commit)
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n\n", paths.Data)

			if baseURL == "" {
				cfg, err := config.Load(paths.Config)
				if err != nil {
					return err
				}
				baseURL = serverURL(cfg.Web)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			health, err := fetchHealth(ctx, http.DefaultClient, baseURL)
			if err != nil {
				fmt.Fprintf(out, "Server:  %s %s\n", failMark("unreachable"), baseURL)
				return err
			}
			printHealth(out, baseURL, health)
			if health.Status != "healthy" {
				return fmt.Errorf("server is %s", health.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "server base URL (default from web.host and web.port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// serverURL is the address a local client reaches the web API on.
func serverURL(web config.WebConfig) string {
	host := web.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(web.Port))
}

// fetchHealth reads /api/health. A 503 still carries a report.
func fetchHealth(ctx context.Context, client *http.Client, baseURL string) (*gateway.HealthReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("health check returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var health gateway.HealthReply
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decoding health reply: %w", err)
	}
	return &health, nil
}

func printHealth(w io.Writer, baseURL string, h *gateway.HealthReply) {
	status := okMark(h.Status)
	if h.Status != "healthy" {
		status = failMark(h.Status)
	}
	fmt.Fprintf(w, "Server:  %s %s (%s %s)\n", status, baseURL, h.Service, h.Version)

	db := okMark("ok")
	if !h.Database {
		db = failMark("failing")
	}
	fmt.Fprintf(w, "DB:      %s\n", db)
	fmt.Fprintf(w, "WS:      %d client(s)\n", h.Clients)

	if len(h.Channels) == 0 {
		fmt.Fprintln(w, "Channels: (none)")
		return
	}
	for _, ch := range h.Channels {
		state := okMark("connected")
		if !ch.Connected {
			state = failMark("disconnected")
		}
		line := fmt.Sprintf("Channel: %-9s %s", ch.ChannelID, state)
		if ch.LastError != "" {
			line += " (" + ch.LastError + ")"
		}
		fmt.Fprintln(w, line)
	}
}
