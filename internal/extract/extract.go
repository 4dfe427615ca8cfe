// Package extract contains the site specific page extractors that look up
// a phone number on a reverse phone lookup site and turn the result page
// into a types.Result.
package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/jakopako/revscrape/internal/types"
)

var (
	// ErrChallengeDetected is returned if a human verification challenge
	// blocks the extraction. It is not a failure of the job.
	ErrChallengeDetected = errors.New("human verification challenge detected")
	// ErrUnknownSite is returned by New for unsupported sites.
	ErrUnknownSite = errors.New("unknown site")
)

// An Extractor performs the site specific interaction for a number.
// Extract returns a nil result and a nil error if the site has no match.
// ErrChallengeDetected is returned if a challenge blocks the extraction,
// any other error is considered transient and local to the job.
// Implementations check ctx between the steps of their script.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, s *session.Session, number phone.Number) (*types.Result, error)
}

// Site is the name of a supported lookup site.
type Site string

const (
	AMERICA_PHONE_BOOK_SITE Site = "americaphonebook"
	THATS_THEM_SITE         Site = "thatsthem"
)

// Config configures the extractors.
type Config struct {
	// WaitTimeout bounds every single wait for page readiness,
	// elements or new tabs.
	WaitTimeout time.Duration `yaml:"wait_timeout" env:"EXTRACT_WAIT_TIMEOUT" env-default:"30s"`
	// NoDelays disables the human like pauses between interactions.
	NoDelays bool   `yaml:"no_delays" env:"EXTRACT_NO_DELAYS"`
	DebugDir string `yaml:"debug_dir" env:"EXTRACT_DEBUG_DIR" env-default:"debug"`
}

// New returns the extractor for the given site.
func New(site Site, c *Config) (Extractor, error) {
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	switch site {
	case AMERICA_PHONE_BOOK_SITE:
		return NewAmericaPhoneBook(c), nil
	case THATS_THEM_SITE:
		return NewThatsThem(c), nil
	default:
		return nil, fmt.Errorf("%w: '%s', must be one of %v", ErrUnknownSite, site, Sites())
	}
}

// Sites returns the names of all supported sites, sorted.
func Sites() []string {
	sites := []string{string(AMERICA_PHONE_BOOK_SITE), string(THATS_THEM_SITE)}
	slices.Sort(sites)
	return sites
}
