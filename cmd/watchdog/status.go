package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pingsantohq/watchdog/internal/config"
	"github.com/pingsantohq/watchdog/pkg/types"
)

const requestTimeout = 5 * time.Second

type clientFlags struct {
	server string
	token  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "http://"+config.DefaultAddr, "Watchdog API base URL")
	cmd.Flags().StringVar(&f.token, "token", "", "Admin bearer token")
}

func (f *clientFlags) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := strings.TrimRight(f.server, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusCmd() *cobra.Command {
	var (
		flags     clientFlags
		outputFmt string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every watchdog and the state of its entries",
		Long: `Show every watchdog known to a running service.

Examples:
  # Show status
  watchdog status

  # Output as JSON
  watchdog status -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list struct {
				Items []types.WatchdogSnapshot `json:"items"`
			}
			if err := flags.do(cmd.Context(), http.MethodGet, "/api/v1/watchdogs", nil, &list); err != nil {
				return err
			}
			return outputStatus(cmd.OutOrStdout(), list.Items, outputFmt)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")
	return cmd
}

func outputStatus(w io.Writer, items []types.WatchdogSnapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "table", "":
		return outputStatusTable(w, items)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func outputStatusTable(out io.Writer, items []types.WatchdogSnapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WATCHDOG\tINDEX\tLABEL\tSOURCE\tSTATUS\tELAPSED\tTOLERANCE")
	var total, stale int
	for _, snap := range items {
		total += len(snap.Entries)
		stale += len(snap.Stale())
		if len(snap.Entries) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\n", snap.Name)
			continue
		}
		for _, e := range snap.Entries {
			status := "STALE"
			if e.UpToDate {
				status = "OK"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%.1fs\t%gs\n",
				snap.Name, e.Index, e.Label, e.SourceName, status, e.ElapsedSec, e.Tolerance)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d of %d entries stale\n", stale, total)
	return err
}

func heartbeatCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "heartbeat <source-id>",
		Short: "Report that a source is alive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				SourceID string `json:"source_id"`
				Matched  int    `json:"matched"`
			}
			path := "/api/v1/sources/" + url.PathEscape(args[0]) + "/heartbeat"
			if err := flags.do(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "heartbeat %s matched %d watchdog(s)\n", resp.SourceID, resp.Matched)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
