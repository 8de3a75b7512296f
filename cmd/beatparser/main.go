// Command beatparser extracts a fixed number of beats from an audio file
// and prints them as JSON, with an optional interactive progress display.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	beatparser "github.com/sw6820/beat-parser-core-sub001"
	"github.com/sw6820/beat-parser-core-sub001/internal/config"
	"github.com/sw6820/beat-parser-core-sub001/internal/perr"
)

var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Version      bool    `short:"v" help:"Show version information."`
	Debug        bool    `short:"d" help:"Enable debug logging."`
	Count        int     `short:"n" default:"16" help:"Number of beats to select."`
	Strategy     string  `short:"s" default:"adaptive" enum:"energy,regular,musical,adaptive" help:"Beat selection strategy."`
	MinSpacingMS float64 `default:"100" help:"Minimum spacing between selected beats, in milliseconds."`
	ConfigPath   string  `help:"Path to a YAML configuration file." type:"path"`
	File         string  `arg:"" name:"file" help:"Audio file to parse (.wav, .mp3, .mp4, .m4a)." type:"existingfile"`
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("beatparser"),
		kong.Description("Extracts a fixed number of beats from an audio file."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if cli.Version {
		fmt.Println("beatparser " + version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if cli.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	runtime := beatparser.DefaultConfig()
	if cli.ConfigPath != "" {
		loaded, err := config.Load(cli.ConfigPath)
		if err != nil {
			kctx.FatalIfErrorf(err)
		}
		runtime = loaded
	}

	opts := beatparser.DefaultParseOptions(cli.Count)
	opts.Strategy = beatparser.Strategy(cli.Strategy)
	opts.MinSpacingMS = cli.MinSpacingMS

	parser := beatparser.New(runtime)
	if err := parser.Initialize(); err != nil {
		exitWithError(err)
	}
	defer parser.Close()

	interactive := isatty.IsTerminal(os.Stdout.Fd())

	var result *beatparser.Result
	var err error
	if interactive {
		result, err = runWithTUI(parser, cli.File, opts)
	} else {
		result, err = parser.ParseFile(context.Background(), cli.File, opts)
	}
	if err != nil {
		exitWithError(err)
	}

	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		exitWithError(marshalErr)
	}
	fmt.Println(string(out))

	slog.Debug("parse complete",
		"beats", len(result.Beats),
		"processing_time", humanize.RelTime(time.Now().Add(-time.Duration(result.Metadata.ProcessingTimeMS)*time.Millisecond), time.Now(), "", ""),
	)
}

// exitWithError maps a perr.Error Kind to the process exit codes defined
// by spec.md §6: 0 success, 1 invalid input or configuration, 2 unsupported
// format, 3 internal error, 4 cancelled or timed out.
func exitWithError(err error) {
	code := 3
	if pe, ok := err.(*perr.Error); ok {
		switch pe.Kind {
		case perr.KindInvalidInput, perr.KindConfigurationError:
			code = 1
		case perr.KindUnsupportedFormat:
			code = 2
		case perr.KindCancelled:
			code = 4
		}
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(code)
}

var (
	barFilled = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barEmpty  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	stageText = lipgloss.NewStyle().Bold(true)
)

type progressModel struct {
	stage   string
	percent float64
	done    bool
	result  *beatparser.Result
	err     error
}

type progressMsg beatparser.ProgressUpdate
type doneMsg struct {
	result *beatparser.Result
	err    error
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case progressMsg:
		m.stage = string(v.Stage)
		m.percent = v.Percentage
		return m, nil
	case doneMsg:
		m.done = true
		m.result = v.result
		m.err = v.err
		return m, tea.Quit
	case tea.KeyMsg:
		if v.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}
	const width = 30
	filled := int(m.percent / 100 * width)
	if filled > width {
		filled = width
	}
	bar := barFilled.Render(repeat("█", filled)) + barEmpty.Render(repeat("░", width-filled))
	return fmt.Sprintf("%s %s %.0f%%\n", stageText.Render(m.stage), bar, m.percent)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

// runWithTUI drives the parse in the background while a bubbletea program
// renders live progress updates from the parser's subscription channel.
func runWithTUI(parser *beatparser.Parser, path string, opts beatparser.ParseOptions) (*beatparser.Result, error) {
	sub := parser.Subscribe(16)
	program := tea.NewProgram(progressModel{stage: "starting"})

	go func() {
		for u := range sub.Updates {
			program.Send(progressMsg(u))
		}
	}()

	go func() {
		result, err := parser.ParseFile(context.Background(), path, opts)
		program.Send(doneMsg{result: result, err: err})
	}()

	finalModel, err := program.Run()
	if err != nil {
		return nil, err
	}
	pm := finalModel.(progressModel)
	return pm.result, pm.err
}
