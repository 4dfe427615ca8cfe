package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
)

const (
	thatsThemURL               = "https://thatsthem.com/reverse-phone-lookup"
	thatsThemSearchBox         = `.form-control`
	thatsThemFallbackSearchBox = `input[type="text"]`
	thatsThemNoResults         = "no results found"
)

var ageRegex = regexp.MustCompile(`Born (.*?)\((\d+) years old\)`)

// ThatsThem looks numbers up on thatsthem.com. The site opens its results
// in a new tab. The extractor always closes that tab and activates the
// original one again before returning.
type ThatsThem struct {
	*Config
}

func NewThatsThem(c *Config) *ThatsThem {
	return &ThatsThem{Config: c}
}

func (t *ThatsThem) Name() string {
	return string(THATS_THEM_SITE)
}

func (t *ThatsThem) Extract(ctx context.Context, s *session.Session, number phone.Number) (*types.Result, error) {
	sc, cancel := newScript(ctx, s.Context(), t.Config, number)
	defer cancel()

	c := chromedp.FromContext(s.Context())
	if c == nil || c.Target == nil {
		return nil, errors.New("session has no browser tab")
	}
	originalTab := c.Target.TargetID

	if err := sc.navigate(thatsThemURL); err != nil {
		return nil, err
	}
	if _, err := sc.checkChallenge(); err != nil {
		return nil, err
	}

	sel := thatsThemSearchBox
	if err := sc.wait("search box", chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
		sc.logger.Debug(fmt.Sprintf("search box %s not found, trying fallback %s", sel, thatsThemFallbackSearchBox))
		sel = thatsThemFallbackSearchBox
		if err := sc.wait("search box", chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
			return nil, err
		}
	}
	if err := sc.typeNumber(sel); err != nil {
		return nil, err
	}

	// listen on the session so that a tab opening after we gave up is
	// still noticed and closed
	newTab := chromedp.WaitNewTarget(s.Context(), func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == originalTab
	})
	var tabID target.ID
	defer func() {
		if tabID == "" {
			go closeLateTab(newTab, t.WaitTimeout, func(id target.ID) {
				leaveTab(s.Context(), sc.logger, id, originalTab, func() {})
			})
		}
	}()

	if err := sc.submit(sel); err != nil {
		return nil, err
	}
	if err := sc.pause(afterSubmit); err != nil {
		return nil, err
	}

	timer := time.NewTimer(t.WaitTimeout)
	defer timer.Stop()
	select {
	case tabID = <-newTab:
	case <-timer.C:
		return nil, errors.New("waiting for results tab: timeout")
	case <-sc.ctx.Done():
		return nil, sc.ctx.Err()
	}
	sc.logger.Debug("switching to results tab", slog.String("tab", string(tabID)))

	tabCtx, cancelTab := chromedp.NewContext(sc.ctx, chromedp.WithTargetID(tabID))
	defer leaveTab(s.Context(), sc.logger, tabID, originalTab, cancelTab)

	return t.extractResults(sc.withContext(tabCtx))
}

func (t *ThatsThem) extractResults(sc *script) (*types.Result, error) {
	if err := sc.wait("results tab to be ready", chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return nil, err
	}
	var found bool
	expr := fmt.Sprintf(`document.querySelector(".record") !== null || document.documentElement.outerHTML.toLowerCase().includes(%q)`, thatsThemNoResults)
	if err := sc.wait("results", chromedp.Poll(expr, &found)); err != nil {
		return nil, err
	}
	if err := sc.pause(afterResults); err != nil {
		return nil, err
	}

	body, err := sc.checkChallenge()
	if err != nil {
		return nil, err
	}
	sc.writeDebugHTML("postwait", body)

	res, err := ParseThatsThem(body, sc.number)
	if err != nil {
		sc.writeDebugHTML("error", body)
		return nil, err
	}
	if res == nil {
		sc.logger.Info("no results found")
		sc.writeDebugHTML("nomatch", body)
	}
	return res, nil
}

// leaveTab closes the results tab and activates the original tab. It uses
// its own context so that the tab is cleaned up on cancellation, too.
func leaveTab(browserCtx context.Context, logger *slog.Logger, tab, original target.ID, cancelTab context.CancelFunc) {
	cancelTab()
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return
	}
	ctx, cancel := context.WithTimeout(browserCtx, 5*time.Second)
	defer cancel()
	ctx = cdp.WithExecutor(ctx, c.Browser)
	if err := target.CloseTarget(tab).Do(ctx); err != nil {
		logger.Debug(fmt.Sprintf("failed to close results tab: %v", err))
	}
	if err := target.ActivateTarget(original).Do(ctx); err != nil {
		logger.Warn(fmt.Sprintf("failed to switch back to the original tab: %v", err))
	}
}

// closeLateTab waits up to wait for a results tab that was not picked up by
// Extract and closes it.
func closeLateTab(newTab <-chan target.ID, wait time.Duration, closeTab func(target.ID)) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case id := <-newTab:
		closeTab(id)
	case <-timer.C:
	}
}

// ParseThatsThem extracts the first record of a thatsthem.com result page.
// It returns nil if there are no results or the record has no name.
func ParseThatsThem(page string, number phone.Number) (*types.Result, error) {
	if strings.Contains(strings.ToLower(page), thatsThemNoResults) {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	record := doc.Find(".record").First()
	if record.Length() == 0 {
		return nil, nil
	}
	name := firstText(record, ".name")
	if name == "" {
		return nil, nil
	}

	location := record.Find(".location").First()
	zip := firstText(location, ".zip")
	zip = strings.TrimSpace(strings.Split(zip, "+")[0])

	res := &types.Result{
		Name:        name,
		PhoneNumber: number.String(),
		Address:     firstText(location, ".street"),
		City:        firstText(location, ".city"),
		State:       firstText(location, ".state"),
		ZipCode:     zip,
		Country:     types.Country,
	}
	if dob, age, ok := parseAge(firstText(record, ".age")); ok {
		res.DateOfBirth = &dob
		res.Age = &age
	}
	return res, nil
}

// parseAge parses texts like "Born March 3, 1970 (54 years old)".
func parseAge(s string) (dob, age string, ok bool) {
	m := ageRegex.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

func firstText(s *goquery.Selection, sel string) string {
	if s.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(s.Find(sel).First().Text())
}
