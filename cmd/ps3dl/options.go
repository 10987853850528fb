package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"PS3DL/internal/model"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	title       string
	link        string
	size        string
	region      string
	id          string
	refreshKeys bool
	verbose     bool
	jsonLogs    bool
	noRename    bool
	showHistory bool
	help        bool
	version     bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("ps3dl", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	flagSet.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default: $PS3DL_CONFIG or built-in defaults)")
	flagSet.StringVarP(&opts.title, "title", "t", "", "title of the disc image as listed remotely")
	flagSet.StringVarP(&opts.link, "link", "l", "", "link of the archive, relative to urls.iso_base")
	flagSet.StringVarP(&opts.size, "size", "s", "", "approximate size, e.g. \"3.2 GiB\" (used for the disk space check)")
	flagSet.StringVarP(&opts.region, "region", "r", "", "region used in the output file name, e.g. USA")
	flagSet.StringVar(&opts.id, "id", "", "key index identifier (default: derived from the title)")
	flagSet.BoolVar(&opts.refreshKeys, "refresh-keys", false, "fetch the key listing again instead of using the cache")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&opts.jsonLogs, "json-logs", false, "emit logs as JSON lines")
	flagSet.BoolVar(&opts.noRename, "no-rename", false, "keep the region-based file name")
	flagSet.BoolVar(&opts.showHistory, "history", false, "list recent acquisitions and exit")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")
	flagSet.BoolVar(&opts.version, "version", false, "print the version and exit")

	return flagSet
}

func parseOptions(args []string) (options, *pflag.FlagSet, error) {
	var opts options
	flagSet := newFlagSet(&opts)

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			opts.help = true
			return opts, flagSet, nil
		}
		return opts, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, flagSet, errors.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, flagSet, nil
}

// resolveConfigPath picks --config, then $PS3DL_CONFIG.
func resolveConfigPath(opts options, lookup func(string) (string, bool)) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	if v, ok := lookup("PS3DL_CONFIG"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// prompter asks the user for a missing value.
type prompter interface {
	Ask(label string) (string, error)
}

type terminalPrompter struct{}

func (terminalPrompter) Ask(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
	}
	return prompt.Run()
}

// buildTarget assembles the target from flags, asking p for a missing title or link.
// p may be nil when stdin is not a terminal.
func buildTarget(opts options, p prompter) (model.Target, error) {
	title, link := opts.title, opts.link

	ask := func(value *string, label, flag string) error {
		if strings.TrimSpace(*value) != "" {
			return nil
		}
		if p == nil {
			return errors.Errorf("--%s is required", flag)
		}
		answer, err := p.Ask(label)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", flag)
		}
		*value = answer
		return nil
	}

	if err := ask(&title, "Title", "title"); err != nil {
		return model.Target{}, err
	}
	if strings.TrimSpace(link) == "" {
		// listings name archives after their title
		if p == nil {
			link = model.CanonicalID(title) + ".zip"
		} else if err := ask(&link, "Archive link", "link"); err != nil {
			return model.Target{}, err
		}
	}

	return model.NewTarget(opts.id, title, link, opts.size, opts.region)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `ps3dl downloads a PS3 disc image, resolves its key and decrypts it.

Usage:
  ps3dl --title <title> [--link <link>] [flags]

Examples:
  ps3dl --title "Example Game (USA)" --region USA --size "12.3 GiB"
  ps3dl --history

Flags:
%s
Environment:
  PS3DL_CONFIG     configuration file when --config is not given
  PS3DL_DECRYPTOR  path of the decryption program
  PS3DL_WORK_DIR   working directory
`, flagSet.FlagUsages())
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
