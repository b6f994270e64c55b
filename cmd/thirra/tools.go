package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opestro/Thirra-ai-sub000/thirra/db"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	"github.com/opestro/Thirra-ai-sub000/thirra/memory/service"
)

var (
	parseExpectTitle bool
	routeTokens      int
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a model reply in the block format",
	Long:  `Parse a reply from a file (or stdin) and print the title, summary and response as JSON.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args)
		if err != nil {
			return err
		}

		parser := harness.NewOutputParser(cfg.Parser.TitleMaxChars, cfg.Parser.SummaryMaxChars)
		return printJSON(cmd.OutOrStdout(), parser.ParseModelOutput(raw, parseExpectTitle))
	},
}

var factsCmd = &cobra.Command{
	Use:   "facts [text]",
	Short: "Extract key=value facts from text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		facts := service.ExtractAssignments(text)
		if facts == nil {
			facts = []service.Fact{}
		}
		return printJSON(cmd.OutOrStdout(), facts)
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Show which model a query would be routed to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		query := strings.Join(args, " ")
		decision := a.memory.Router.Route(cmd.Context(), query, nil)
		return printJSON(cmd.OutOrStdout(), struct {
			Decision service.RoutingDecision `json:"decision"`
			Savings  service.CostSavings     `json:"estimated_savings"`
		}{
			Decision: decision,
			Savings:  a.memory.Router.EstimateCostSavings(decision.Category, routeTokens),
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the turn store migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := db.Connect(cmd.Context(), cfg.Database.DSN, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		version, err := db.Migrate(cmd.Context(), conn, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && cmd.Name() == "facts" {
		return args[0], nil
	}
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	parseCmd.Flags().BoolVar(&parseExpectTitle, "expect-title", false, "require a title block")
	routeCmd.Flags().IntVar(&routeTokens, "tokens", 1000, "token count used for the savings estimate")

	rootCmd.AddCommand(parseCmd, factsCmd, routeCmd, migrateCmd)
}
