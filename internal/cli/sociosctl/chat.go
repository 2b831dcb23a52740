package sociosctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// LineReader yields one line of user input per call. It returns io.EOF when
// the input is exhausted and readline.ErrInterrupt on Ctrl-C.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

var errQuit = errors.New("quit")

func newReadlineReader(prompt string) (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return nil, err
	}
	return rl, nil
}

func (c *client) chat(ctx context.Context, sessionID string, newReader func(string) (LineReader, error)) error {
	reader, err := newReader("tú> ")
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = reader.Close() }()

	_, _ = fmt.Fprintf(c.stdout, "sesión %s. Escribe /reset para una nueva conversación y /quit para salir.\n", sessionID)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := c.handleChatLine(ctx, sessionID, strings.TrimSpace(line)); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			var apiErr *apiError
			if errors.As(err, &apiErr) {
				_, _ = fmt.Fprintln(c.stderr, apiErr.Error())
				continue
			}
			return err
		}
	}
}

func (c *client) handleChatLine(ctx context.Context, sessionID, line string) error {
	switch line {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/reset":
		if err := c.reset(ctx, sessionID); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.stdout, "conversación reiniciada")
		return nil
	}
	return c.ask(ctx, sessionID, line)
}
