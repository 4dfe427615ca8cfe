package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/revscrape/internal/log"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/115.0"

// BrowserConfig configures the chrome instance backing a session.
type BrowserConfig struct {
	// Headless is false by default because verification challenges have
	// to be solved by a human in the live browser window.
	Headless     bool   `yaml:"headless" env:"BROWSER_HEADLESS" env-default:"false"`
	UserAgent    string `yaml:"user_agent" env:"BROWSER_USER_AGENT"`
	WindowWidth  int    `yaml:"window_width" env:"BROWSER_WINDOW_WIDTH" env-default:"1200"`
	WindowHeight int    `yaml:"window_height" env:"BROWSER_WINDOW_HEIGHT" env-default:"800"`
	ExecPath     string `yaml:"exec_path" env:"BROWSER_EXEC_PATH"`
}

func (bc *BrowserConfig) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", bc.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
	)
	if bc.WindowWidth > 0 && bc.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(bc.WindowWidth, bc.WindowHeight))
	}
	ua := bc.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts = append(opts, chromedp.UserAgent(ua))
	if bc.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(bc.ExecPath))
	}
	return opts
}

// ChromeLauncher returns a LaunchFunc that starts a new chrome instance.
// The instance lives until the session is released, independently of the
// context passed to the LaunchFunc.
func ChromeLauncher(bc BrowserConfig) LaunchFunc {
	return func(ctx context.Context) (*Session, error) {
		logger := log.LoggerFromContext(ctx)
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), bc.allocatorOptions()...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		cancel := func() {
			cancelBrowser()
			cancelAlloc()
		}

		// the first Run starts the browser
		err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, _, userAgent, _, err := browser.GetVersion().Do(ctx)
			if err != nil {
				return err
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s", protocolVersion, product), slog.String("user-agent", userAgent))
			return nil
		}))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		// closing the window or a crash of the tab invalidates the session
		chromedp.ListenTarget(browserCtx, func(ev any) {
			switch ev.(type) {
			case *inspector.EventDetached, *inspector.EventTargetCrashed:
				logger.Warn("browser tab was closed or crashed")
				go cancel()
			}
		})
		return New(browserCtx, cancel), nil
	}
}
