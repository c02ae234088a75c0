package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/config"
	"github.com/daviddao/mailreport/internal/db"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	dbPath      string
	jsonOutput  bool
	quietFlag   bool
	verboseFlag bool
	store       *db.DB
	cfg         config.Config
	logger      *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mr",
	Short: "mr - Email reports sized to fit the model",
	Long: `Mailreport: ingest Gmail into a local database, summarize and embed it in
the background, and write reports that fit the model's context window.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verboseFlag {
			level = slog.LevelDebug
		} else if quietFlag {
			level = slog.LevelWarn
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		switch cmd.Name() {
		case "init", "help", "version", "gmail":
			return nil
		case "search", "read", "fetch":
			// Gmail subcommands talk to the API directly.
			if cmd.Parent() != nil && cmd.Parent().Name() == "gmail" {
				return nil
			}
		}

		path := dbPath
		if path == "" {
			path = db.DiscoverDB()
		}
		if path == "" {
			return fmt.Errorf("no mailreport database found, run 'mr init' first")
		}

		var err error
		cfg, err = config.LoadOrCreate(filepath.Join(filepath.Dir(path), config.FileName))
		if err != nil {
			return err
		}
		store, err = db.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mr version %s\n", Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .mailreport/ in the project root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		if root == "" {
			return fmt.Errorf("could not find project root (no .git directory found)")
		}

		dir := filepath.Join(root, db.Dir)
		s, err := db.Open(filepath.Join(dir, db.FileName))
		if err != nil {
			return err
		}
		s.Close()

		if _, err := config.LoadOrCreate(filepath.Join(dir, config.FileName)); err != nil {
			return err
		}

		ensureGitignore(root)

		if !quietFlag {
			fmt.Printf("Initialized mailreport at %s\n", dir)
		}
		return nil
	},
}

// ensureGitignore adds .mailreport/ to .gitignore if not already present.
func ensureGitignore(root string) {
	gitignorePath := filepath.Join(root, ".gitignore")
	entry := db.Dir + "/"

	data, err := os.ReadFile(gitignorePath)
	if err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(data)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == entry || line == db.Dir {
				return
			}
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return // silently skip if can't write
	}
	defer f.Close()

	if len(data) > 0 && data[len(data)-1] != '\n' {
		f.WriteString("\n")
	}
	fmt.Fprintf(f, "\n# Mailreport database (local mail, summaries, embeddings)\n%s\n", entry)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .mailreport/mail.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
