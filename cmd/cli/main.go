package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var (
	apiURL string
	apiKey string
	client *Client
)

var rootCmd = &cobra.Command{
	Use:   "sitewatch",
	Short: "Control a running Sitewatch monitor",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = NewClient(apiURL, apiKey)
	},
	SilenceUsage: true,
}

func main() {
	defaultURL := os.Getenv("SITEWATCH_API")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Sitewatch API URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("SITEWATCH_API_KEY"), "API key (admin key for mutating commands)")

	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, cleanupCmd, addCmd, removeCmd, sslCmd, historyCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every target",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap domain.Snapshot
		if err := client.do(http.MethodGet, "/api/status", nil, &snap); err != nil {
			return err
		}
		state := "stopped"
		if snap.Running {
			state = "running"
		}
		fmt.Printf("monitor %s\n\n", state)
		if len(snap.Rows) == 0 {
			fmt.Println("no targets configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tSTATUS\tRESPONSE\tLAST CHECK\tCERT\tDETAIL")
		for _, r := range snap.Rows {
			cert := "-"
			if c := r.Certificate; c != nil {
				switch {
				case c.Error != "":
					cert = "error"
				case !c.ValidTo.IsZero():
					cert = strconv.Itoa(c.DaysRemaining) + "d"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%dms\t%s\t%s\t%s\n",
				r.Target, r.Status, r.ResponseTimeMs, r.LastCheck, cert, r.Detail)
		}
		return w.Flush()
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the monitoring loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printMessage(http.MethodPost, "/api/start")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the monitoring loop after the current cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printMessage(http.MethodPost, "/api/stop")
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old history, performance and auth rows now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Deleted domain.PurgeResult `json:"deleted"`
		}
		if err := client.do(http.MethodPost, "/api/cleanup", nil, &out); err != nil {
			return err
		}
		d := out.Deleted
		fmt.Printf("deleted %d rows (performance %d, history %d, certificates %d, auth %d)\n",
			d.Total(), d.Performance, d.History, d.Certificates, d.AuthAttempts)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <url> [expected text]",
	Short: "Add a target",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"url": args[0]}
		if len(args) == 2 {
			body["expected"] = args[1]
		}
		var out struct {
			Target domain.Target `json:"target"`
		}
		if err := client.do(http.MethodPost, "/api/targets", body, &out); err != nil {
			return err
		}
		fmt.Println("added", out.Target.URL)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Remove a target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.do(http.MethodDelete, "/api/targets?url="+url.QueryEscape(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Println("removed", args[0])
		return nil
	},
}

var sslCmd = &cobra.Command{
	Use:   "ssl <url>",
	Short: "Show the certificate of an https target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var info struct {
			Issuer        string `json:"issuer"`
			ValidTo       string `json:"validTo"`
			DaysRemaining int    `json:"daysRemaining"`
			Source        string `json:"source"`
		}
		if err := client.do(http.MethodGet, "/api/ssl?target="+url.QueryEscape(args[0]), nil, &info); err != nil {
			return err
		}
		fmt.Printf("issuer:  %s\nexpires: %s (%d days)\nsource:  %s\n", info.Issuer, info.ValidTo, info.DaysRemaining, info.Source)
		return nil
	},
}

var (
	historyTarget string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent status events",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if historyTarget != "" {
			q.Set("target", historyTarget)
		}
		q.Set("limit", strconv.Itoa(historyLimit))
		var out struct {
			History []domain.HistoryEntry `json:"history"`
		}
		if err := client.do(http.MethodGet, "/api/history?"+q.Encode(), nil, &out); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTARGET\tSTATUS\tDETAIL")
		for _, e := range out.History {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format(domain.DefaultTimeFormat), e.Target, e.Status, e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "only this target")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries")
}

func printMessage(method, path string) error {
	var out struct {
		Message string `json:"message"`
	}
	if err := client.do(method, path, nil, &out); err != nil {
		return err
	}
	fmt.Println(out.Message)
	return nil
}
