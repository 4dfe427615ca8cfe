// Package prompt asks the operator to acknowledge a human verification
// challenge that was solved in the browser window.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// ErrAborted is returned if the operator chose to stop instead of
// acknowledging the challenge.
var ErrAborted = errors.New("verification prompt aborted")

// ChallengeMessage is shown when a batch is paused on a challenge.
const ChallengeMessage = "Human verification required!\n\nPlease complete the verification in the browser window, then select Done to continue."

const (
	doneLabel = "Done"
	stopLabel = "Stop"
)

// Prompter blocks until the operator acknowledged msg. It returns
// ErrAborted if the operator asked to stop and ctx.Err() if ctx is done first.
type Prompter interface {
	Confirm(ctx context.Context, msg string) error
}

// TUIPrompter shows a modal dialog in the terminal.
type TUIPrompter struct{}

func (p *TUIPrompter) Confirm(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	app := tview.NewApplication()
	acknowledged := false
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{doneLabel, stopLabel}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			acknowledged = buttonLabel == doneLabel
			app.Stop()
		})
	modal.SetBackgroundColor(tcell.ColorDarkRed).SetBorderColor(tcell.ColorWhite)

	stop := context.AfterFunc(ctx, app.Stop)
	defer stop()
	if err := app.SetRoot(modal, false).SetFocus(modal).Run(); err != nil {
		return fmt.Errorf("error while showing the verification prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !acknowledged {
		return ErrAborted
	}
	return nil
}

// LinePrompter prints msg and waits for a line on its input. An empty line
// acknowledges, "stop" or "q" aborts.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) Confirm(ctx context.Context, msg string) error {
	fmt.Fprintf(p.out, "\n%s\nPress Enter when done or type 'stop' to stop: ", msg)

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		answers <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case a := <-answers:
		line := strings.ToLower(strings.TrimSpace(a.line))
		if a.err != nil && line == "" {
			return ErrAborted
		}
		if line == "stop" || line == "q" {
			return ErrAborted
		}
		return nil
	}
}
