package vault

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the user whether the exporter may write into root.
type Prompter interface {
	Confirm(ctx context.Context, root string) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, root string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, root string) (bool, error) {
	return f(ctx, root)
}

// StaticPrompter answers every prompt with the same decision.
type StaticPrompter bool

func (p StaticPrompter) Confirm(context.Context, string) (bool, error) {
	return bool(p), nil
}

// TerminalPrompter asks a y/N question on a terminal.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *TerminalPrompter) Confirm(ctx context.Context, root string) (bool, error) {
	fmt.Fprintf(p.Out, "Allow yuque_exporter to write into %s? [y/N] ", root)

	answer := make(chan string, 1)
	failed := make(chan error, 1)

	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && line == "" {
			failed <- err

			return
		}

		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-failed:
		if err == io.EOF {
			return false, nil
		}

		return false, err
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
