package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/opestro/Thirra-ai-sub000/thirra/config"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation"
	"github.com/opestro/Thirra-ai-sub000/thirra/generation/harness"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
	"github.com/opestro/Thirra-ai-sub000/thirra/memory/service"
)

var (
	chatConversation string
	chatInstruction  string
	chatModel        string
	chatFiles        []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively on one conversation",
	Long: `Read user messages from stdin, stream each answer and commit the finished turn.

Lines starting with "/" are commands:
  /forget   drop every piece of memory held for the conversation
  /facts    print the facts recorded so far
  /quit     leave`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if a.provider == nil {
			return fmt.Errorf("%w: set llm.provider and llm.api_key", harness.ErrNoProvider)
		}
		a.serveMetrics(cfg.App.MetricsAddr)

		if config.WatchConfig(func(c *config.Config, e fsnotify.Event) {
			a.memory.Router.SetTiers(c.Router.Tiers)
			logger.Info().Str("file", e.Name).Msg("router tiers reloaded")
		}) {
			logger.Debug().Msg("watching config for changes")
		}

		files, err := readFiles(chatFiles)
		if err != nil {
			return err
		}

		if chatConversation == "" {
			chatConversation = uuid.NewString()
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation %s\n", chatConversation)

		return chatLoop(ctx, a.engine, cmd.InOrStdin(), cmd.OutOrStdout(), files)
	},
}

func chatLoop(ctx context.Context, engine *generation.Engine, in io.Reader, out io.Writer, files []service.EphemeralFile) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/forget":
			engine.ForgetConversation(chatConversation)
			fmt.Fprintln(out, "memory cleared")
			continue
		case "/facts":
			for _, f := range engine.Facts(chatConversation) {
				fmt.Fprintf(out, "%s=%s\n", f.Key, f.Value)
			}
			continue
		}

		output, err := engine.RunTurn(ctx, generation.TurnInput{
			ConversationID: chatConversation,
			Query:          line,
			Instruction:    chatInstruction,
			Files:          files,
			Model:          chatModel,
		}, func(d harness.Delta) {
			switch d.Marker {
			case ports.MarkerReasoningStart:
				fmt.Fprint(out, "[thinking] ")
			case ports.MarkerReasoningEnd:
				fmt.Fprintln(out)
			}
			fmt.Fprint(out, d.Text)
		})
		fmt.Fprintln(out)

		if err != nil {
			if output == nil || errors.Is(err, context.Canceled) {
				return err
			}
			// Partial answers are shown but never committed.
			logger.Warn().Err(err).Msg("answer cut short")
			continue
		}
		files = nil // attached to the first turn only

		parsed := output.Result.Parsed
		fmt.Fprintf(out, "(%s, %s", output.Result.Model, output.Context.Routing.Category)
		if parsed.Title != "" {
			fmt.Fprintf(out, ", %q", parsed.Title)
		}
		fmt.Fprintln(out, ")")

		if err := engine.CommitTurn(ctx, chatConversation, line, parsed.Response); err != nil {
			return err
		}
	}
}

func readFiles(paths []string) ([]service.EphemeralFile, error) {
	files := make([]service.EphemeralFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, service.EphemeralFile{Name: p, Content: string(data)})
	}
	return files, nil
}

func init() {
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation ID (default: a new UUID)")
	chatCmd.Flags().StringVar(&chatInstruction, "instruction", "", "standing instruction added to the system prompt")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "pin a model instead of routing")
	chatCmd.Flags().StringSliceVar(&chatFiles, "file", nil, "files indexed for recall (repeatable)")
	rootCmd.AddCommand(chatCmd)
}
