package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"portsweep/config"
	"portsweep/scanner"
)

// Exit codes returned by Run.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// Options carries the process environment into Run.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Config supplies defaults that flags override.
	Config config.Config
	// ScanOptions are passed to the scanner.
	ScanOptions []scanner.Option
}

type flags struct {
	ports        string
	timeoutMs    int
	workers      int
	jsonOutput   bool
	openOnly     bool
	progress     bool
	reportErrors bool
}

// Run parses args, sweeps one host and renders every outcome as it arrives.
// It returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	defaults := opts.Config.Scan
	if defaults.Workers == 0 {
		defaults = scanner.DefaultConfig(defaults.Hostname)
	}

	fs := flag.NewFlagSet("portsweep", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	fs.Usage = func() { printUsage(fs) }

	var f flags
	fs.StringVar(&f.ports, "ports", defaults.Ports.String(), "Port range to scan, startPort-endPort")
	fs.IntVar(&f.timeoutMs, "timeout", int(defaults.ConnectTimeout/time.Millisecond), "Connect timeout in milliseconds")
	fs.IntVar(&f.workers, "workers", defaults.Workers, "Number of concurrent connect attempts")
	fs.BoolVar(&f.jsonOutput, "json", false, "Output results in JSON format")
	fs.BoolVar(&f.openOnly, "open-only", false, "Only print open ports")
	fs.BoolVar(&f.progress, "progress", false, "Show a progress bar on stderr")
	fs.BoolVar(&f.reportErrors, "report-errors", defaults.ReportProbeErrors, "Report unexpected probe failures instead of folding them into closed")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	host := defaults.Hostname
	if fs.NArg() > 0 {
		host = fs.Arg(0)
	}
	if host == "" || fs.NArg() > 1 {
		printUsage(fs)
		return ExitUsage
	}

	ports, err := scanner.ParsePortRange(f.ports)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return ExitUsage
	}

	cfg := scanner.Config{
		Hostname:          host,
		Ports:             ports,
		ConnectTimeout:    time.Duration(f.timeoutMs) * time.Millisecond,
		Workers:           f.workers,
		ReportProbeErrors: f.reportErrors,
	}
	scanOpts := append([]scanner.Option{scanner.WithLogger(opts.Logger)}, opts.ScanOptions...)
	sc, err := scanner.NewWithConfig(cfg, scanOpts...)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return ExitUsage
	}
	if err := sc.Start(); err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	defer sc.Close()

	out := newRenderer(opts.Stdout, opts.Stderr, f, sc.Config())
	for !sc.IsComplete() {
		outcome, err := sc.NextResult(ctx)
		if errors.Is(err, scanner.ErrScanComplete) {
			break
		}
		if errors.Is(err, scanner.ErrInterrupted) {
			out.abort()
			fmt.Fprintln(opts.Stderr, "scan interrupted")
			return ExitInterrupted
		}
		if err != nil {
			out.abort()
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			return ExitFailure
		}
		out.add(outcome)
	}

	// Sockets and workers are released before success is reported.
	if err := sc.Wait(ctx); err != nil {
		out.abort()
		fmt.Fprintln(opts.Stderr, "scan interrupted")
		return ExitInterrupted
	}

	if err := out.finish(); err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	return ExitOK
}

// printUsage displays the help message.
func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "Usage: portsweep [flags] host")
	fmt.Fprintln(w, "       portsweep serve")
	fmt.Fprintln(w, "Example: portsweep -ports 1-1024 scanme.nmap.org")
	fmt.Fprintln(w, "Example: portsweep -json -open-only -workers 200 127.0.0.1")
	fs.PrintDefaults()
}

// renderer writes outcomes as text lines as they arrive, or buffers them for
// a single JSON document.
type renderer struct {
	stdout   io.Writer
	f        flags
	bar      *progressbar.ProgressBar
	open     *color.Color
	outcomes []scanner.Outcome
}

func newRenderer(stdout, stderr io.Writer, f flags, cfg scanner.Config) *renderer {
	r := &renderer{stdout: stdout, f: f, open: color.New(color.FgGreen)}
	if f.progress {
		r.bar = progressbar.NewOptions(cfg.Ports.Len(),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("scanning "+cfg.Hostname),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

func (r *renderer) add(o scanner.Outcome) {
	if r.bar != nil {
		_ = r.bar.Add(1)
	}
	if r.f.openOnly && !o.IsOpen() {
		return
	}
	if r.f.jsonOutput {
		r.outcomes = append(r.outcomes, o)
		return
	}

	if r.bar != nil {
		_ = r.bar.Clear()
	}
	line := formatOutcome(o)
	if o.IsOpen() {
		r.open.Fprintln(r.stdout, line)
		return
	}
	fmt.Fprintln(r.stdout, line)
}

func (r *renderer) abort() {
	if r.bar != nil {
		_ = r.bar.Exit()
	}
}

func (r *renderer) finish() error {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
	if !r.f.jsonOutput {
		return nil
	}
	if r.outcomes == nil {
		r.outcomes = []scanner.Outcome{}
	}
	jsonData, err := json.MarshalIndent(r.outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding to JSON: %w", err)
	}
	_, err = fmt.Fprintln(r.stdout, string(jsonData))
	return err
}

// formatOutcome renders "Port N open: true|false", annotating timeouts and errors.
func formatOutcome(o scanner.Outcome) string {
	line := fmt.Sprintf("Port %d open: %t", o.Port, o.IsOpen())
	switch o.Status {
	case scanner.StatusTimeout:
		line += " (timeout)"
	case scanner.StatusError:
		line += fmt.Sprintf(" (error: %s)", o.Reason)
	}
	return line
}
