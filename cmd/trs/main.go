// Package main is the entrypoint for the trs CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	// Import bindings to register them
	_ "github.com/eugenetaranov/trs/internal/binding/connect"
	_ "github.com/eugenetaranov/trs/internal/binding/file"
	_ "github.com/eugenetaranov/trs/internal/binding/interact"
	_ "github.com/eugenetaranov/trs/internal/binding/shell"

	"github.com/eugenetaranov/trs/internal/binding"
	"github.com/eugenetaranov/trs/internal/connector/ssh"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
	"github.com/eugenetaranov/trs/internal/runtime"
	"github.com/eugenetaranov/trs/internal/script"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	debug   bool
	noColor bool
	silent  bool
)

// Run flags
var (
	logPath     string
	libPaths    []string
	readTimeout time.Duration
	transfer    string
	knownHosts  string
	prompt      string
)

// errScriptFailed is returned when the script itself failed. The failure
// has already been reported on the console.
var errScriptFailed = errors.New("script failed")

func main() {
	rootCmd.SetArgs(shebangArgs(os.Args[1:]))

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errScriptFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// shebangArgs rewrites the arguments of a script started by the system
// loader. A script beginning with "#!/usr/bin/trs -x" run as
// "./deploy.yaml a b" yields ["-x", "./deploy.yaml", "a", "b"], and options
// after -x on the shebang line arrive in the same argument as -x.
func shebangArgs(args []string) []string {
	if len(args) == 0 || !strings.HasPrefix(args[0], "-x") {
		return args
	}

	rewritten := []string{"run"}
	for _, f := range strings.Fields(args[0]) {
		if f != "-x" {
			rewritten = append(rewritten, f)
		}
	}
	return append(rewritten, args[1:]...)
}

var rootCmd = &cobra.Command{
	Use:   "trs",
	Short: "trs - prompt-driven remote shell automation",
	Long: `trs drives interactive shells over SSH, local PTYs and Docker
containers from simple YAML scripts. Commands are sent to the shell and
their output is collected up to the next prompt.

Scripts can be started directly with a shebang line:
  #!/usr/bin/env -S trs -x`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable diagnostic logging on stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "Print only the script's own output and errors")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(bindingsCmd)
}

// runCmd executes a script
var runCmd = &cobra.Command{
	Use:   "run <script.yaml> [args...]",
	Short: "Run a script",
	Long: `Execute a script. Arguments after the script path are available to
the script as {{ args.0 }}, {{ args.1 }} and so on.

Examples:
  trs run deploy.yaml
  trs run deploy.yaml web-1 --force
  trs run --silent --log /tmp/trs.log deploy.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

func init() {
	// Everything after the script path belongs to the script
	runCmd.Flags().SetInterspersed(false)

	runCmd.Flags().StringVarP(&logPath, "log", "l", "./.trs.log", "Command log file")
	runCmd.Flags().StringSliceVar(&libPaths, "libs", nil, "Extra directories searched for included files")
	runCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "Fail a command when no prompt is seen within this time (0 waits forever)")
	runCmd.Flags().StringVar(&transfer, "transfer", string(ssh.SCP), "SSH file transfer method (scp or sftp)")
	runCmd.Flags().StringVar(&knownHosts, "known-hosts", "", "Verify SSH host keys against this known_hosts file")
	runCmd.Flags().StringVar(&prompt, "prompt", runtime.DefaultPrompt, "Default prompt regexp for connections")
}

func runScript(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	s, err := loadScript(args[0])
	if err != nil {
		return err
	}

	defaultPrompt, err := regexp.Compile(prompt)
	if err != nil {
		return fmt.Errorf("invalid --prompt: %w", err)
	}

	mode := ssh.TransferMode(transfer)
	if mode != ssh.SCP && mode != ssh.SFTP {
		return fmt.Errorf("invalid --transfer %q: must be scp or sftp", transfer)
	}

	log, err := outlog.Open(logPath)
	if err != nil {
		return err
	}
	defer log.Close()

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shared := console.NewShared(newReporter(os.Stdout))

	opts := []runtime.Option{
		runtime.WithContext(ctx),
		runtime.WithDefaultPrompt(defaultPrompt),
		runtime.WithReadTimeout(readTimeout),
		runtime.WithTransferMode(mode),
		runtime.WithLogger(logger),
	}
	if knownHosts != "" {
		opts = append(opts, runtime.WithKnownHosts(knownHosts))
	}
	rt := runtime.New(shared, log, opts...)

	exec := script.New(rt, shared, log)
	exec.Logger = logger
	exec.LibPaths = libPaths

	if _, err := exec.Run(ctx, s, args[1:]); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nInterrupted, connections closed.")
		}
		return errScriptFailed
	}
	return nil
}

// loadScript reads and parses a script file. A shebang line is skipped.
func loadScript(path string) (*script.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load script file '%s': %w", path, err)
	}

	s, err := script.Parse(script.StripShebang(data), path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	return s, nil
}

// newReporter picks the console renderer for the global flags.
func newReporter(w *os.File) console.Reporter {
	if silent {
		return console.NewSilent(w)
	}
	c := console.New(w)
	c.SetColor(!noColor && term.IsTerminal(int(w.Fd())))
	return c
}

// newLogger creates the diagnostic logger. It is quiet unless --debug is set.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    noColor,
		TimeFormat: time.TimeOnly,
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// validateCmd validates scripts without running them
var validateCmd = &cobra.Command{
	Use:   "validate <script.yaml> [script2.yaml ...]",
	Short: "Validate one or more scripts",
	Long: `Parse and validate scripts without executing them.

This checks for:
  - Valid YAML syntax
  - Step structure
  - Known binding names
  - Resolvable includes

Examples:
  trs validate deploy.yaml
  trs validate *.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateScripts,
}

func init() {
	validateCmd.Flags().StringSliceVar(&libPaths, "libs", nil, "Extra directories searched for included files")
}

func validateScripts(cmd *cobra.Command, args []string) error {
	var hasErrors bool

	for _, path := range args {
		if err := validateScript(path); err != nil {
			fmt.Printf("FAIL: %s - %v\n", path, err)
			hasErrors = true
		} else {
			fmt.Printf("OK: %s\n", path)
		}
	}

	if hasErrors {
		return fmt.Errorf("one or more scripts failed validation")
	}

	fmt.Printf("\nAll %d script(s) valid.\n", len(args))
	return nil
}

func validateScript(path string) error {
	s, err := loadScript(path)
	if err != nil {
		return err
	}
	exec := &script.Executor{LibPaths: libPaths}
	return exec.Check(s)
}

// bindingsCmd lists available bindings
var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List available bindings",
	Long:  `Display a list of all bindings that can be used as script steps.`,
	Run: func(cmd *cobra.Command, args []string) {
		names := binding.List()
		if len(names) == 0 {
			fmt.Println("No bindings registered.")
			return
		}

		fmt.Println("Available bindings:")
		fmt.Println()
		for _, name := range names {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Println()
		fmt.Printf("Total: %d bindings\n", len(names))
	},
}
