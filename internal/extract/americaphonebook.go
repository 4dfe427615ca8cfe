package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
)

const (
	americaPhoneBookURL       = "https://www.americaphonebook.com/reverse.php"
	americaPhoneBookSearchBox = `input[name="number"]`
	americaPhoneBookResults   = "Here are your"
	americaPhoneBookForm      = "searchform2"
)

// AmericaPhoneBook looks numbers up on americaphonebook.com. Results are
// listed in a single table, one row per match.
type AmericaPhoneBook struct {
	*Config
}

func NewAmericaPhoneBook(c *Config) *AmericaPhoneBook {
	return &AmericaPhoneBook{Config: c}
}

func (a *AmericaPhoneBook) Name() string {
	return string(AMERICA_PHONE_BOOK_SITE)
}

func (a *AmericaPhoneBook) Extract(ctx context.Context, s *session.Session, number phone.Number) (*types.Result, error) {
	sc, cancel := newScript(ctx, s.Context(), a.Config, number)
	defer cancel()

	if err := sc.navigate(americaPhoneBookURL); err != nil {
		return nil, err
	}
	if _, err := sc.checkChallenge(); err != nil {
		return nil, err
	}
	if err := sc.wait("search box", chromedp.WaitVisible(americaPhoneBookSearchBox, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	if err := sc.typeNumber(americaPhoneBookSearchBox); err != nil {
		return nil, err
	}
	if err := sc.submit(americaPhoneBookSearchBox); err != nil {
		return nil, err
	}
	if err := sc.pause(afterSubmit); err != nil {
		return nil, err
	}

	var found bool
	expr := fmt.Sprintf(`document.documentElement.outerHTML.includes(%q) || document.documentElement.outerHTML.includes(%q)`,
		americaPhoneBookResults, americaPhoneBookForm)
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

	res, err := ParseAmericaPhoneBook(body, number)
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

// ParseAmericaPhoneBook extracts the first table row whose phone cell
// matches number. It returns nil if the page has no match.
func ParseAmericaPhoneBook(page string, number phone.Number) (*types.Result, error) {
	if !strings.Contains(page, americaPhoneBookResults) {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	var res *types.Result
	var parseErr error
	doc.Find("table tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return true
		}
		cellNumber, ok := phone.Normalize(cells.Eq(3).Text())
		if !ok || cellNumber != number {
			return true
		}
		fullAddress := strings.TrimSpace(cells.Eq(2).Text())
		address, city, state, zip, err := splitAddress(fullAddress)
		if err != nil {
			parseErr = err
			return false
		}
		res = &types.Result{
			Name:        strings.TrimSpace(cells.Eq(1).Text()),
			PhoneNumber: number.String(),
			Address:     address,
			City:        city,
			State:       state,
			ZipCode:     zip,
			Country:     types.Country,
		}
		return false
	})
	return res, parseErr
}

// splitAddress splits an address of the form
// "1607 KORNEGAY AVE, WILMINGTON, NC. 28405" into its components.
func splitAddress(fullAddress string) (address, city, state, zip string, err error) {
	parts := strings.Split(fullAddress, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 {
		return "", "", "", "", fmt.Errorf("unexpected address format %q", fullAddress)
	}
	stateZip := strings.Fields(parts[2])
	if len(stateZip) < 2 {
		return "", "", "", "", fmt.Errorf("unexpected state and zip code format %q", parts[2])
	}
	return parts[0], parts[1], strings.ReplaceAll(stateZip[0], ".", ""), stateZip[1], nil
}
