/*
revscrape looks up batches of US phone numbers on reverse phone lookup
sites with a real browser and writes the matches to a spreadsheet.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jakopako/revscrape/internal/batch"
	"github.com/jakopako/revscrape/internal/config"
	"github.com/jakopako/revscrape/internal/connectivity"
	"github.com/jakopako/revscrape/internal/extract"
	"github.com/jakopako/revscrape/internal/input"
	"github.com/jakopako/revscrape/internal/log"
	"github.com/jakopako/revscrape/internal/output"
	"github.com/jakopako/revscrape/internal/phone"
	"github.com/jakopako/revscrape/internal/prompt"
	"github.com/jakopako/revscrape/internal/session"
	"github.com/joho/godotenv"
	"github.com/miekg/king"
	"gopkg.in/yaml.v3"
)

var version = "dev"

const name = "revscrape"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store the html of visited pages in the debug directory."`

	Completion CompletionCommand `cmd:"" help:"Generate autocompletion file."`

	Scrape    ScrapeCmd    `cmd:"" help:"Look up phone numbers"`
	Normalize NormalizeCmd `cmd:"" help:"Print the normalized form of the given phone numbers without looking them up"`
	Sites     SitesCmd     `cmd:"" help:"List the supported lookup sites"`
	Config    ConfigCmd    `cmd:"" help:"Inspect the configuration"`
}

type ShellType string

const (
	BASH ShellType = "bash"
	ZSH  ShellType = "zsh"
	FISH ShellType = "fish"
)

var shellTypes = []string{string(BASH), string(ZSH), string(FISH)}

type CompletionCommand struct {
	Shell ShellType `short:"s" help:"The shell that you want to create the autocompletion file for." required:"" enum:"bash,zsh,fish"`
}

func (cc *CompletionCommand) Run() error {
	parser := kong.Must(&cli{})

	switch cc.Shell {
	case BASH:
		b := &king.Bash{}
		b.Completion(parser.Model.Node, name)
		return b.Write()
	case ZSH:
		z := &king.Zsh{}
		z.Completion(parser.Model.Node, name)
		return z.Write()
	case FISH:
		f := &king.Fish{}
		f.Completion(parser.Model.Node, name)
		return f.Write()
	default:
		return fmt.Errorf("shell type not supported: %s. Must be one of [%s].", cc.Shell, strings.Join(shellTypes, ", "))
	}
}

type ScrapeCmd struct {
	Numbers     []string `arg:"" optional:"" help:"The phone numbers to look up. If neither numbers nor an input file are given they are read from stdin, one per line."`
	Input       string   `short:"i" help:"A .txt file with one number per line or an .xlsx file with the numbers in the first column." completion:"<file>"`
	Config      string   `short:"c" default:"./config.yaml" help:"The location of the configuration file." completion:"<file>"`
	Site        string   `short:"s" help:"The lookup site to use. Overrides the configured site." completion:"revscrape sites"`
	Stdout      bool     `short:"o" help:"If set to true the results will be written to stdout despite any other existing writer configuration."`
	Headless    bool     `help:"Run the browser without a window. Verification challenges cannot be solved in this mode."`
	PlainPrompt bool     `short:"p" help:"Ask for the verification acknowledgement on the command line instead of in a dialog."`
}

func (sc *ScrapeCmd) Run() error {
	c, err := config.Load(sc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	if sc.Site != "" {
		c.Site = extract.Site(sc.Site)
	}
	if sc.Stdout {
		c.Writer.Type = output.STDOUT_WRITER_TYPE
	}
	if sc.Headless {
		c.Browser.Headless = true
	}

	raw, err := readNumbers(sc.Numbers, sc.Input)
	if err != nil {
		slog.Error(fmt.Sprintf("error while reading phone numbers: %v", err))
		return err
	}

	extractor, err := extract.New(c.Site, &c.Extract)
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	writer, err := output.NewWriter(&c.Writer)
	if err != nil {
		slog.Error(err.Error())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// a second interrupt terminates immediately
		<-ctx.Done()
		stop()
	}()

	var prompter prompt.Prompter = &prompt.TUIPrompter{}
	if sc.PlainPrompt {
		prompter = prompt.NewLinePrompter(os.Stdin, os.Stdout)
	}

	var o *batch.Orchestrator
	hooks := batch.Hooks{
		OnChallenge: func(number phone.Number) {
			slog.Warn(fmt.Sprintf("human verification required while looking up %s", number))
			if err := prompter.Confirm(ctx, prompt.ChallengeMessage); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Info(fmt.Sprintf("stopping: %v", err))
				}
				o.Stop()
				return
			}
			o.Resume()
		},
	}
	sessions := session.NewManager(session.ChromeLauncher(c.Browser))
	o = batch.New(extractor, sessions, connectivity.NewHTTPMonitor(&c.Connectivity), c.Run, hooks)

	h, err := o.Start(ctx, raw)
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	runErr := h.Wait()

	results, err := o.Results()
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	if err := writer.Write(results); err != nil {
		slog.Error(fmt.Sprintf("error while writing results: %v", err))
		return err
	}
	if err := printSummary(os.Stdout, o.Summary()); err != nil {
		slog.Error(fmt.Sprintf("error while printing summary: %v", err))
	}
	return runErr
}

// readNumbers collects the raw candidates from the arguments and the input
// file, or from stdin if there are neither.
func readNumbers(args []string, path string) ([]string, error) {
	raw := slices.Clone(args)
	if path != "" {
		fromFile, err := input.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = append(raw, fromFile...)
	}
	if len(args) == 0 && path == "" {
		slog.Info("reading phone numbers from stdin")
		return input.ReadLines(os.Stdin)
	}
	return raw, nil
}

type NormalizeCmd struct {
	Numbers []string `arg:"" optional:"" help:"The phone numbers to normalize. Read from stdin if neither numbers nor an input file are given."`
	Input   string   `short:"i" help:"A .txt or .xlsx file containing phone numbers." completion:"<file>"`
}

func (n *NormalizeCmd) Run() error {
	raw, err := readNumbers(n.Numbers, n.Input)
	if err != nil {
		slog.Error(fmt.Sprintf("error while reading phone numbers: %v", err))
		return err
	}
	numbers, rejected := phone.NormalizeAll(raw)
	for _, number := range numbers {
		fmt.Println(number)
	}
	if rejected > 0 {
		slog.Warn(fmt.Sprintf("rejected %d of %d inputs", rejected, len(raw)))
	}
	return nil
}

type SitesCmd struct{}

func (s *SitesCmd) Run() error {
	for _, site := range extract.Sites() {
		fmt.Println(site)
	}
	return nil
}

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration including defaults and environment overrides"`
}

type ConfigShowCmd struct {
	Config string `short:"c" default:"./config.yaml" help:"The location of the configuration file." completion:"<file>"`
}

func (cs *ConfigShowCmd) Run() error {
	c, err := config.Load(cs.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	yamlData, err := yaml.Marshal(c)
	if err != nil {
		slog.Error(fmt.Sprintf("error while marshalling. %v", err))
		return err
	}
	fmt.Print(string(yamlData))
	return nil
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Description("Batch reverse phone number lookup."),
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	log.InitializeDefaultLogger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn(fmt.Sprintf("error while loading .env file: %v", err))
	}

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
