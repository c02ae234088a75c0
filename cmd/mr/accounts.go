package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/daviddao/mailreport/internal/auth"
	"github.com/daviddao/mailreport/internal/gmail"
	"github.com/daviddao/mailreport/internal/jobs"
)

// discoverAccounts finds account directories in the project root: a
// directory named like an email address holding a credentials.json.
func discoverAccounts(projectRoot string) []string {
	entries, err := os.ReadDir(projectRoot)
	if err != nil {
		return nil
	}

	var accounts []string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), "@") {
			continue
		}
		if _, err := os.Stat(filepath.Join(projectRoot, entry.Name(), "credentials.json")); err == nil {
			accounts = append(accounts, entry.Name())
		}
	}

	sort.Strings(accounts)
	return accounts
}

// resolveAccounts returns the list of accounts to operate on.
func resolveAccounts(root, account string) []string {
	if account != "" {
		return []string{account}
	}
	return discoverAccounts(root)
}

// resolveCredentials returns the credentials path for an account.
func resolveCredentials(root, account, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(root, account, "credentials.json")
}

// gmailSource opens an authorized Gmail client for an account. It is
// the ingestion body's view of the mailbox.
func gmailSource(root, credentials string) jobs.SourceFunc {
	return func(ctx context.Context, account string) (jobs.EmailSource, error) {
		c, err := openGmail(ctx, root, account, credentials)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func openGmail(ctx context.Context, root, account, credentials string) (*gmail.Client, error) {
	svc, err := auth.LoadGmailService(ctx, resolveCredentials(root, account, credentials), logger)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", account, err)
	}
	return gmail.New(svc, account), nil
}
