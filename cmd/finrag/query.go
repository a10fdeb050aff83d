package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"finrag/internal/channel"
	"finrag/internal/domain"
	"finrag/internal/stream"
)

func askCmd() *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the final answer",
		Long: `Runs one agent turn and prints its final answer. With --rag the question goes
straight to the retrieval-augmented composer without the agent.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := newQueryStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			question := strings.Join(args, " ")
			var answer string
			if direct {
				answer, err = q.composer.Answer(ctx, question)
			} else {
				answer, err = q.service.Ask(ctx, nil, question)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&direct, "rag", false, "answer with the RAG composer only")
	return cmd
}

func queryCmd() *cobra.Command {
	var modes string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Stream one agent turn, showing every event mode",
		Long: `Streams one agent turn. --modes selects any of messages, custom and updates
(comma separated, default all); errors are always shown. --json prints one
event per line as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := stream.ParseModes(modes)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := newQueryStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			events := stream.Filter(q.service.Stream(ctx, nil, strings.Join(args, " ")), selected...)
			if asJSON {
				return writeJSONEvents(cmd.OutOrStdout(), events)
			}
			return writeEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().StringVar(&modes, "modes", "", "comma-separated stream modes: messages,custom,updates")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	return cmd
}

func writeJSONEvents(w io.Writer, events <-chan domain.StreamEvent) error {
	enc := json.NewEncoder(w)
	var failure *domain.StreamError
	for ev := range events {
		if ev.IsTerminal() {
			failure = ev.Err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if failure != nil {
		return fmt.Errorf("turn %s: %s", failure.Kind, failure.Message)
	}
	return nil
}

// writeEvents renders events for a terminal: tokens inline, everything else
// on its own labelled line.
func writeEvents(w io.Writer, events <-chan domain.StreamEvent) error {
	inText := false
	endText := func() {
		if inText {
			fmt.Fprintln(w)
			inText = false
		}
	}
	var failure *domain.StreamError
	for ev := range events {
		switch ev.Mode {
		case domain.ModeMessages:
			fmt.Fprint(w, ev.Token.Text)
			inText = true
		case domain.ModeCustom:
			endText()
			if env, ok := stream.ParseEnvelope(ev.Custom.Payload); ok {
				fmt.Fprintf(w, "[custom] %s: %s\n", env.Source, env.Message)
			} else {
				fmt.Fprintf(w, "[custom] %s\n", ev.Custom.Payload)
			}
		case domain.ModeUpdates:
			endText()
			for _, m := range ev.Update.Messages {
				fmt.Fprintf(w, "[updates] %s: %s\n", ev.Update.Node, describe(m))
			}
		case domain.ModeError:
			endText()
			failure = ev.Err
			fmt.Fprintf(w, "[error] %s: %s\n", ev.Err.Kind, ev.Err.Message)
		}
	}
	endText()
	if failure != nil {
		return fmt.Errorf("turn %s", failure.Kind)
	}
	return nil
}

func describe(m domain.Message) string {
	switch {
	case m.HasToolCalls():
		names := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			names[i] = tc.Name
		}
		return fmt.Sprintf("%s requests %s", m.Role, strings.Join(names, ", "))
	case m.Role == domain.RoleTool:
		return fmt.Sprintf("%s result (%d bytes)", m.ToolName, len(m.Content))
	default:
		return fmt.Sprintf("%s message (%d chars)", m.Role, len([]rune(m.Content)))
	}
}

func chatCmd() *cobra.Command {
	var progress bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := newQueryStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			cli := channel.NewCLI(channel.CLIConfig{
				Agent:        q.service,
				Logger:       logger,
				In:           cmd.InOrStdin(),
				Out:          cmd.OutOrStdout(),
				ShowProgress: progress,
				Spinner:      true,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "show tool progress events")
	return cmd
}
