// Package connectivity probes whether the network is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jakopako/revscrape/internal/log"
)

// Monitor reports whether the network is currently reachable.
type Monitor interface {
	Reachable(ctx context.Context) bool
}

// MonitorFunc adapts a function to the Monitor interface.
type MonitorFunc func(ctx context.Context) bool

func (f MonitorFunc) Reachable(ctx context.Context) bool {
	return f(ctx)
}

// Config configures the HTTPMonitor.
type Config struct {
	ProbeURL string        `yaml:"probe_url" env:"CONNECTIVITY_PROBE_URL" env-default:"https://www.google.com"`
	Timeout  time.Duration `yaml:"timeout" env:"CONNECTIVITY_TIMEOUT" env-default:"5s"`
}

// HTTPMonitor considers the network reachable if a request to the probe
// url gets any response at all, regardless of its status code.
type HTTPMonitor struct {
	client   *resty.Client
	probeURL string
}

func NewHTTPMonitor(c *Config) *HTTPMonitor {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPMonitor{
		client:   resty.New().SetTimeout(timeout).SetRetryCount(0),
		probeURL: c.ProbeURL,
	}
}

func (m *HTTPMonitor) Reachable(ctx context.Context) bool {
	resp, err := m.client.R().SetContext(ctx).Get(m.probeURL)
	if err != nil {
		log.LoggerFromContext(ctx).Debug("connectivity probe failed", slog.String("url", m.probeURL), slog.String("err", err.Error()))
		return false
	}
	log.LoggerFromContext(ctx).Debug("connectivity probe succeeded", slog.String("url", m.probeURL), slog.Int("status", resp.StatusCode()))
	return true
}
