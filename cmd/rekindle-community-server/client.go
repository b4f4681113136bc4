package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/rekindle-chat/rekindle/internal/community"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flagCommunityID         string
	flagDHTRecordKey        string
	flagOwnerKeypairHex     string
	flagCommunityName       string
	flagCreatorPseudonymKey string
	flagCreatorDisplayName  string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Ask a running server to host a community",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendIPCRequest("HostCommunity", map[string]string{
			"community_id":          flagCommunityID,
			"dht_record_key":        flagDHTRecordKey,
			"owner_keypair_hex":     flagOwnerKeypairHex,
			"name":                  flagCommunityName,
			"creator_pseudonym_key": flagCreatorPseudonymKey,
			"creator_display_name":  flagCreatorDisplayName,
		})
		return err
	},
}

var unhostCmd = &cobra.Command{
	Use:   "unhost",
	Short: "Ask a running server to stop hosting a community",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendIPCRequest("UnhostCommunity", map[string]string{"community_id": flagCommunityID})
		return err
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List communities hosted by a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendIPCRequest("ListHosted", map[string]string{})
		if err != nil {
			return err
		}
		printHostedSummary(resp.Hosted)
		return printJSON(resp.Hosted)
	},
}

var clientStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running server's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := sendIPCRequest("GetStatus", map[string]string{})
		if err != nil {
			return err
		}
		if resp.Status != nil {
			printStatusSummary(resp.Status.UptimeSeconds, resp.Status.CommunityCount)
		}
		return printJSON(resp.Status)
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask a running server to shut down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendIPCRequest("Shutdown", map[string]string{})
		return err
	},
}

func init() {
	rootCmd.AddCommand(hostCmd, unhostCmd, listCmd, clientStatusCmd, shutdownCmd)

	for _, c := range []*cobra.Command{hostCmd, unhostCmd} {
		c.Flags().StringVar(&flagCommunityID, "community-id", "", "community id")
	}
	hostCmd.Flags().StringVar(&flagDHTRecordKey, "dht-record-key", "", "community's DHT record key")
	hostCmd.Flags().StringVar(&flagOwnerKeypairHex, "owner-keypair-hex", "", "hex-encoded \"public:secret\" owner keypair")
	hostCmd.Flags().StringVar(&flagCommunityName, "name", "", "community display name")
	hostCmd.Flags().StringVar(&flagCreatorPseudonymKey, "creator-pseudonym-key", "", "creator's pseudonymous public key (hex)")
	hostCmd.Flags().StringVar(&flagCreatorDisplayName, "creator-display-name", "", "creator's display name")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	summaryBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("63")).
				Padding(0, 1)
	summaryLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	summaryRevokedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// printStatusSummary renders a human-readable status box to stderr when
// stdout is a terminal; JSON on stdout (printJSON) stays the script-stable
// output regardless.
func printStatusSummary(uptimeSeconds int64, communityCount int) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return
	}
	body := fmt.Sprintf("%s  %ds\n%s  %d",
		summaryLabelStyle.Render("Uptime"), uptimeSeconds,
		summaryLabelStyle.Render("Hosted communities"), communityCount,
	)
	fmt.Fprintf(os.Stderr, "\n%s\n\n", summaryBoxStyle.Render(body))
}

// printHostedSummary renders a one-line-per-community styled box to
// stderr when stdout is a terminal.
func printHostedSummary(hosted []community.HostedInfo) {
	if !term.IsTerminal(int(os.Stdout.Fd())) || len(hosted) == 0 {
		return
	}
	lines := make([]string, 0, len(hosted))
	for _, h := range hosted {
		route := "no route"
		if h.HasRoute {
			route = "route active"
		} else {
			route = summaryRevokedStyle.Render(route)
		}
		lines = append(lines, fmt.Sprintf("%s  members=%d  %s",
			summaryLabelStyle.Render(h.CommunityID), h.MemberCount, route))
	}
	body := lines[0]
	for _, l := range lines[1:] {
		body += "\n" + l
	}
	fmt.Fprintf(os.Stderr, "\n%s\n\n", summaryBoxStyle.Render(body))
}
