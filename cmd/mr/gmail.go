package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/db"
	"github.com/daviddao/mailreport/internal/display"
	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/tasks"
	"github.com/daviddao/mailreport/internal/types"
)

var (
	gmailAccount     string
	gmailCredentials string
	gmailMaxResults  int
	gmailFetchMax    int
	gmailAfter       string
	gmailBefore      string
	gmailFrom        string
	gmailLabels      []string
)

// gmailCmd is the parent command for direct Gmail operations.
var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Gmail operations (search, read, fetch)",
	Long:  "Search and read Gmail messages directly, without touching the local database.",
}

var gmailSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search Gmail messages",
	Long: `Search Gmail messages matching a query.

Uses the same query syntax as Gmail's search box.
Searches across all accounts by default, or use --account to search one.`,
	Example: `  mr gmail search "from:someone@example.com"
  mr gmail search "subject:urgent is:unread" -n 20
  mr gmail search "newer_than:7d" --account user@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		root, accounts, err := gmailAccounts()
		if err != nil {
			return err
		}

		var allResults []gmail.MessageSummary
		for _, account := range accounts {
			c, err := openGmail(cmd.Context(), root, account, gmailCredentials)
			if err != nil {
				if !quietFlag {
					fmt.Fprintf(cmd.ErrOrStderr(), "  ! %s: %v, skipping\n", account, err)
				}
				continue
			}
			results, err := c.Search(cmd.Context(), query, int64(gmailMaxResults))
			if err != nil {
				if !quietFlag {
					fmt.Fprintf(cmd.ErrOrStderr(), "  ! %s: search failed: %v\n", account, err)
				}
				continue
			}
			allResults = append(allResults, results...)
		}

		if jsonOutput {
			return writeJSON(cmd, allResults)
		}
		if len(allResults) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No messages found matching: %s\n", query)
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Found %d message(s) matching: %s\n\n", len(allResults), query)
		for i, msg := range allResults {
			fmt.Fprintf(cmd.OutOrStdout(), "[%d] ID: %s\n", i+1, msg.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "    From: %s\n", msg.From)
			fmt.Fprintf(cmd.OutOrStdout(), "    Subject: %s\n", msg.Subject)
			fmt.Fprintf(cmd.OutOrStdout(), "    Date: %s\n", msg.Date)
			fmt.Fprintf(cmd.OutOrStdout(), "    Preview: %s\n\n", display.Truncate(msg.Snippet, 100))
		}
		return nil
	},
}

var gmailReadCmd = &cobra.Command{
	Use:   "read MESSAGE_ID",
	Short: "Read a Gmail message by ID",
	Long: `Read the full content of a Gmail message.

Automatically detects which account the message belongs to.`,
	Example: `  mr gmail read 18d5a7b3c4e5f6a7
  mr gmail read 18d5a7b3c4e5f6a7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID := args[0]
		root, accounts, err := gmailAccounts()
		if err != nil {
			return err
		}

		for _, account := range accounts {
			c, err := openGmail(cmd.Context(), root, account, gmailCredentials)
			if err != nil {
				continue
			}
			e, err := c.FetchEmail(cmd.Context(), messageID)
			if err != nil {
				continue // Try next account.
			}
			return printEmail(cmd, e)
		}
		return fmt.Errorf("message %s not found in any account", messageID)
	},
}

var gmailFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Preview the messages an ingestion would fetch",
	Long: `List and read the messages matching a date range and filters, without
storing them. Useful to check filters before 'mr ingest'.`,
	Example: `  mr gmail fetch --after 2025-03-01 --before 2025-03-02
  mr gmail fetch --from boss@example.com -n 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, accounts, err := gmailAccounts()
		if err != nil {
			return err
		}
		p := tasks.Params{"after": gmailAfter, "before": gmailBefore}
		after, err := p.Time("after")
		if err != nil {
			return err
		}
		before, err := p.Time("before")
		if err != nil {
			return err
		}
		r := gmail.DateRange{After: after, Before: before}
		if r.After.IsZero() {
			r.After = time.Now().Add(-24 * time.Hour)
		}
		f := gmail.Filters{From: gmailFrom, Labels: gmailLabels, InboxOnly: true}

		var all []*types.Email
		for _, account := range accounts {
			c, err := openGmail(cmd.Context(), root, account, gmailCredentials)
			if err != nil {
				display.ErrorMsg("%s: %v", account, err)
				continue
			}
			emails, err := c.FetchEmails(cmd.Context(), r, f, gmailFetchMax)
			all = append(all, emails...)
			if err != nil {
				display.ErrorMsg("%s: %v", account, err)
			}
		}

		if jsonOutput {
			return writeJSON(cmd, all)
		}
		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n\n", display.Bold.Render(fmt.Sprintf("%d message(s)", len(all))),
				display.Dim.Render(gmail.BuildQuery(r, f)))
		}
		for i, e := range all {
			connector := "├─"
			if i == len(all)-1 {
				connector = "└─"
			}
			display.EmailTree(connector, e.From, e.Date, e.Subject+"\n"+e.Snippet)
		}
		return nil
	},
}

func printEmail(cmd *cobra.Command, e *types.Email) error {
	if jsonOutput {
		return writeJSON(cmd, e)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "From: %s\n", e.From)
	fmt.Fprintf(w, "To: %s\n", e.To)
	if e.CC != "" {
		fmt.Fprintf(w, "Cc: %s\n", e.CC)
	}
	fmt.Fprintf(w, "Subject: %s\n", e.Subject)
	fmt.Fprintf(w, "Date: %s\n", e.Date.Local().Format(time.RFC1123Z))
	if e.MessageID != "" {
		fmt.Fprintf(w, "Message-ID: %s\n", e.MessageID)
	}
	fmt.Fprintf(w, "Account: %s\n", display.AccountLabel(e.Account))
	fmt.Fprintf(w, "Labels: %s\n", strings.Join(e.Labels, ", "))
	fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", 60))
	fmt.Fprintf(w, "%s\n", e.Body)
	return nil
}

func gmailAccounts() (string, []string, error) {
	root := db.FindProjectRoot()
	if root == "" {
		return "", nil, fmt.Errorf("could not find project root (no .git directory)")
	}
	accounts := resolveAccounts(root, gmailAccount)
	if len(accounts) == 0 {
		return "", nil, fmt.Errorf("no accounts found, add account directories with credentials.json to the project root")
	}
	return root, accounts, nil
}

func init() {
	gmailCmd.PersistentFlags().StringVar(&gmailAccount, "account", "", "Gmail account to use (default: all accounts)")
	gmailCmd.PersistentFlags().StringVar(&gmailCredentials, "credentials", "", "Path to credentials.json")

	gmailSearchCmd.Flags().IntVarP(&gmailMaxResults, "max-results", "n", 10, "Maximum results to return")

	gmailFetchCmd.Flags().IntVarP(&gmailFetchMax, "max-results", "n", 20, "Maximum messages per account")
	gmailFetchCmd.Flags().StringVar(&gmailAfter, "after", "", "Start date (default: 24h ago)")
	gmailFetchCmd.Flags().StringVar(&gmailBefore, "before", "", "End date")
	gmailFetchCmd.Flags().StringVar(&gmailFrom, "from", "", "Only mail from this sender")
	gmailFetchCmd.Flags().StringSliceVar(&gmailLabels, "label", nil, "Only mail with this label (repeatable)")

	gmailCmd.AddCommand(gmailSearchCmd)
	gmailCmd.AddCommand(gmailReadCmd)
	gmailCmd.AddCommand(gmailFetchCmd)
	rootCmd.AddCommand(gmailCmd)
}
