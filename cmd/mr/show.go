package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/mailreport/internal/display"
	"github.com/daviddao/mailreport/internal/types"
)

type showOutput struct {
	Email          *types.Email   `json:"email"`
	Summary        *types.Summary `json:"summary,omitempty"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	EmbeddingDims  int            `json:"embedding_dims,omitempty"`
}

var showBody bool

var showCmd = &cobra.Command{
	Use:   "show EMAIL_ID",
	Short: "Show a stored email with its summary and embedding state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := store.GetEmail(args[0])
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("email not found: %s", args[0])
		}
		sum, err := store.GetSummary(e.ID)
		if err != nil {
			return err
		}
		emb, err := store.GetEmbedding(e.ID, cfg.EmbeddingModel)
		if err != nil {
			return err
		}

		out := showOutput{Email: e, Summary: sum}
		if emb != nil {
			out.EmbeddingModel = emb.Model
			out.EmbeddingDims = len(emb.Vector)
		}
		if jsonOutput {
			return writeJSON(cmd, out)
		}

		fmt.Printf("%s  %s\n", display.Bold.Render(e.Subject), display.Dim.Render(e.ID))
		fmt.Printf("%s  ·  %s  ·  %s\n\n", e.From, display.AccountLabel(e.Account), display.TimeAgo(e.Date))

		if sum != nil {
			display.SubHeader("Summary (" + sum.Model + ")")
			fmt.Printf("  %s\n", sum.Text)
			if len(sum.Labels) > 0 {
				fmt.Printf("  %s\n", display.Dim.Render(strings.Join(sum.Labels, ", ")))
			}
		} else {
			fmt.Printf("  %s\n", display.Dim.Render("(not summarized yet)"))
		}
		if emb != nil {
			fmt.Printf("  %s\n", display.Dim.Render(fmt.Sprintf("embedded with %s (%d dims)", emb.Model, len(emb.Vector))))
		} else {
			fmt.Printf("  %s\n", display.Dim.Render("(no "+cfg.EmbeddingModel+" embedding yet)"))
		}
		fmt.Println()

		if showBody {
			fmt.Println(e.Body)
		} else {
			display.EmailTree("└─", e.From, e.Date, e.Body)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showBody, "body", false, "Print the full body")
	rootCmd.AddCommand(showCmd)
}
