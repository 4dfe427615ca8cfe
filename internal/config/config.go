// Package config loads the configuration of a revscrape run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/revscrape/internal/batch"
	"github.com/jakopako/revscrape/internal/connectivity"
	"github.com/jakopako/revscrape/internal/extract"
	"github.com/jakopako/revscrape/internal/output"
	"github.com/jakopako/revscrape/internal/session"
)

// Config defines the overall structure of the configuration.
// Values will be taken from a config yml file or environment variables
// or both. Environment variables take precedence.
type Config struct {
	Site         extract.Site          `yaml:"site" env:"SITE" env-default:"thatsthem"`
	Browser      session.BrowserConfig `yaml:"browser"`
	Extract      extract.Config        `yaml:"extract"`
	Run          batch.Config          `yaml:"run"`
	Connectivity connectivity.Config   `yaml:"connectivity"`
	Writer       output.WriterConfig   `yaml:"writer"`
}

// Load reads the configuration from the yaml file at path. If path is empty
// or the file does not exist only the environment and the defaults are used.
func Load(path string) (*Config, error) {
	var c Config
	if err := read(path, &c); err != nil {
		return nil, err
	}
	if !slices.Contains(extract.Sites(), string(c.Site)) {
		return nil, fmt.Errorf("%w: '%s', must be one of %v", extract.ErrUnknownSite, c.Site, extract.Sites())
	}
	return &c, nil
}

func read(path string, c *Config) error {
	if path != "" {
		_, err := os.Stat(path)
		if err == nil {
			if err := cleanenv.ReadConfig(path, c); err != nil {
				return fmt.Errorf("error while reading config file %s: %w", path, err)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := cleanenv.ReadEnv(c); err != nil {
		return fmt.Errorf("error while reading config from environment: %w", err)
	}
	return nil
}
