package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/jakopako/revscrape/internal/log"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/utils"
)

// human like pauses, see script.pause
type delay struct {
	min, max time.Duration
}

var (
	afterNavigate = delay{4 * time.Second, 6 * time.Second}
	afterInput    = delay{500 * time.Millisecond, time.Second}
	betweenKeys   = delay{200 * time.Millisecond, 400 * time.Millisecond}
	afterSubmit   = delay{5 * time.Second, 7 * time.Second}
	afterResults  = delay{3 * time.Second, 5 * time.Second}
)

// script runs the chromedp actions of one extraction. Its context is a
// chromedp context derived from the session that is cancelled as soon as
// the job's context is done.
type script struct {
	*Config
	ctx    context.Context
	logger *slog.Logger
	number phone.Number
}

func newScript(ctx context.Context, browserCtx context.Context, c *Config, number phone.Number) (*script, context.CancelFunc) {
	sctx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(ctx, cancel)
	return &script{
			Config: c,
			ctx:    sctx,
			logger: log.LoggerFromContext(ctx),
			number: number,
		}, func() {
			stop()
			cancel()
		}
}

// withContext returns a copy of the script that runs its actions in ctx,
// e.g. in another tab.
func (s *script) withContext(ctx context.Context) *script {
	c := *s
	c.ctx = ctx
	return &c
}

func (s *script) run(actions ...chromedp.Action) error {
	return chromedp.Run(s.ctx, actions...)
}

// wait runs actions that block until some condition on the page is met,
// bounded by the configured wait timeout.
func (s *script) wait(what string, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.WaitTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, actions...); err != nil {
		return fmt.Errorf("waiting for %s: %w", what, err)
	}
	return nil
}

func (s *script) pause(d delay) error {
	if s.NoDelays {
		return s.ctx.Err()
	}
	return utils.SleepRandom(s.ctx, d.min, d.max)
}

func (s *script) navigate(url string) error {
	s.logger.Debug(fmt.Sprintf("navigating to %s", url))
	if err := s.run(chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	if err := s.pause(afterNavigate); err != nil {
		return err
	}
	return s.wait("page to be ready", chromedp.WaitReady("body", chromedp.ByQuery))
}

// typeNumber clicks and clears the search box and types the number digit
// by digit.
func (s *script) typeNumber(sel string) error {
	s.logger.Debug(fmt.Sprintf("typing number into %s", sel))
	if err := s.run(chromedp.Click(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking search box: %w", err)
	}
	if err := s.pause(afterInput); err != nil {
		return err
	}
	if err := s.run(chromedp.Clear(sel, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clearing search box: %w", err)
	}
	if err := s.pause(afterInput); err != nil {
		return err
	}
	for _, d := range s.number.String() {
		if err := s.run(chromedp.SendKeys(sel, string(d), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("typing number: %w", err)
		}
		if err := s.pause(betweenKeys); err != nil {
			return err
		}
	}
	return s.pause(afterInput)
}

func (s *script) submit(sel string) error {
	s.logger.Debug("submitting search")
	if err := s.run(chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("submitting search: %w", err)
	}
	return nil
}

func (s *script) html() (string, error) {
	var body string
	err := s.run(chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("reading page html: %w", err)
	}
	return body, nil
}

// checkChallenge returns ErrChallengeDetected if the current page shows a
// challenge. The page html is returned for further processing.
func (s *script) checkChallenge() (string, error) {
	body, err := s.html()
	if err != nil {
		return "", err
	}
	if DetectChallenge(body) {
		s.logger.Warn("human verification detected")
		s.writeDebugHTML("challenge", body)
		return body, ErrChallengeDetected
	}
	return body, nil
}

// writeDebugHTML stores the page for later inspection if debug mode is on.
func (s *script) writeDebugHTML(kind, body string) {
	if !log.Debug {
		return
	}
	if s.DebugDir != "" {
		if err := os.MkdirAll(s.DebugDir, os.ModePerm); err != nil {
			s.logger.Warn(fmt.Sprintf("failed to create debug directory: %v", err))
			return
		}
	}
	filename := filepath.Join(s.DebugDir, debugFilename(s.number, kind))
	if err := os.WriteFile(filename, []byte(body), 0644); err != nil {
		s.logger.Warn(fmt.Sprintf("failed to write debug html: %v", err))
		return
	}
	s.logger.Debug(fmt.Sprintf("wrote page html to file %s", filename))
}

func debugFilename(number phone.Number, kind string) string {
	return fmt.Sprintf("debug_%s_%s.html", number, kind)
}
