// Package channel holds the interactive front ends that consume agent turns.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"finrag/internal/domain"
	"finrag/internal/stream"
)

// Turns starts one conversation turn and returns its event stream.
type Turns interface {
	Stream(ctx context.Context, history []domain.Message, question string) <-chan domain.StreamEvent
}

// CLI is an interactive terminal chat. It keeps the conversation history in
// memory for the lifetime of the session.
type CLI struct {
	agent        Turns
	logger       *slog.Logger
	in           io.Reader
	out          io.Writer
	showProgress bool
	spinner      bool

	history []domain.Message

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Agent        Turns
	Logger       *slog.Logger
	In           io.Reader
	Out          io.Writer
	ShowProgress bool // print tool progress events
	Spinner      bool // animate while waiting for the first event
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		agent:        cfg.Agent,
		logger:       cfg.Logger,
		in:           cfg.In,
		out:          cfg.Out,
		showProgress: cfg.ShowProgress,
		spinner:      cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// History returns the messages of every completed turn.
func (c *CLI) History() []domain.Message { return c.history }

// Start runs the REPL and blocks until EOF, /quit or context cancellation.
func (c *CLI) Start(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "finrag chat. Ask about your documents and press Enter. /reset clears the conversation, /quit exits.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		case "/reset":
			c.history = nil
			_, _ = fmt.Fprintln(c.out, "Conversation cleared.")
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}

		c.turn(ctx, line)
		_, _ = fmt.Fprint(c.out, "You> ")
	}
}

// turn streams one answer to the terminal. A completed turn is added to the
// history; a failed one is reported and forgotten.
func (c *CLI) turn(ctx context.Context, question string) {
	user := domain.Message{Role: domain.RoleUser, Content: question}
	var produced []domain.Message
	var failure *domain.StreamError
	lastMsg := ""

	c.startThinking()
	for ev := range c.agent.Stream(ctx, c.history, question) {
		c.stopThinking()
		switch ev.Mode {
		case domain.ModeMessages:
			if lastMsg != "" && lastMsg != ev.Token.MessageID {
				_, _ = fmt.Fprintln(c.out)
			}
			lastMsg = ev.Token.MessageID
			_, _ = fmt.Fprint(c.out, ev.Token.Text)
		case domain.ModeCustom:
			if !c.showProgress {
				continue
			}
			if lastMsg != "" {
				_, _ = fmt.Fprintln(c.out)
				lastMsg = ""
			}
			if env, ok := stream.ParseEnvelope(ev.Custom.Payload); ok {
				_, _ = fmt.Fprintf(c.out, "  [%s] %s\n", env.Source, env.Message)
			} else {
				_, _ = fmt.Fprintf(c.out, "  [progress] %s\n", ev.Custom.Payload)
			}
		case domain.ModeUpdates:
			produced = append(produced, ev.Update.Messages...)
		case domain.ModeError:
			failure = ev.Err
		}
	}
	c.stopThinking()
	if lastMsg != "" {
		_, _ = fmt.Fprintln(c.out)
	}

	if failure != nil {
		_, _ = fmt.Fprintf(c.out, "[%s] %s\n", failure.Kind, failure.Message)
		c.logger.Warn("turn failed", "kind", failure.Kind, "err", failure.Message)
		return
	}
	c.history = append(c.history, user)
	c.history = append(c.history, produced...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func() {
		defer close(c.thinkDone)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

// stopThinking stops the spinner and waits until its line is cleared.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}
