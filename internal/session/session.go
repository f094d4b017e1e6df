// Package session runs one interactive shell per connection in its own
// goroutine and serves commands from a Handle one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eugenetaranov/trs/internal/connector"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
	"github.com/eugenetaranov/trs/internal/scanner"
	"github.com/eugenetaranov/trs/internal/transfer"
)

// BadPromptMessage is stored when the connect prompt does not compile.
const BadPromptMessage = "Bad optional prompt"

// Console titles.
const (
	titleExec      = "EXEC"
	titleSetPrompt = "SET PROMPT"
	titleSendFile  = "SEND FILE"
)

// Config describes one session.
type Config struct {
	// Addr is passed to the dialer as is.
	Addr   string
	Auth   connector.Auth
	Dialer connector.Dialer

	// Prompt matches the shell prompt before the sentinel is installed.
	// A nil Prompt fails the session without connecting.
	Prompt *regexp.Regexp

	// Title and Body form the console line of the connect step.
	Title string
	Body  string

	Console *console.Shared
	Log     *outlog.Logger

	// SetupTimeout bounds reading the initial prompt and installing the
	// sentinel. Zero means connector.DefaultTimeout.
	SetupTimeout time.Duration

	// ReadTimeout bounds waiting for the prompt after a command. Zero
	// waits forever.
	ReadTimeout time.Duration

	Logger zerolog.Logger
}

// Start connects and prepares the shell, then returns a Handle. It blocks
// until setup finished; a failed setup yields a Handle in the Failed state
// whose calls all report the setup error.
func Start(ctx context.Context, cfg Config) *Handle {
	if cfg.Console == nil {
		cfg.Console = console.NewShared(console.NewSilent(io.Discard))
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = connector.DefaultTimeout
	}

	requests := make(chan Command)
	replies := make(chan Response, 1)
	done := make(chan struct{})

	h := &Handle{
		id:       uuid.NewString(),
		addr:     cfg.Addr,
		requests: requests,
		replies:  replies,
		done:     done,
		state:    Connecting,
	}

	if cfg.Prompt == nil {
		err := connector.Errorf(connector.PromptCompileError, "%s", BadPromptMessage)
		cfg.Console.LineError(cfg.Title, cfg.Body, err.Error())
		h.fail(err)
		close(done)
		return h
	}

	a := &actor{
		cfg:      cfg,
		h:        h,
		requests: requests,
		replies:  replies,
		prompt:   cfg.Prompt,
		log:      cfg.Logger.With().Str("conn", h.id[:8]).Str("addr", cfg.Addr).Logger(),
	}

	ready := make(chan struct{})
	go a.run(ctx, ready, done)
	<-ready

	return h
}

// actor owns the transport and shell of one session.
type actor struct {
	cfg Config
	h   *Handle
	log zerolog.Logger

	requests <-chan Command
	replies  chan<- Response

	transport connector.Transport
	shell     connector.Shell
	stream    *scanner.Stream
	prompt    *regexp.Regexp
	// sentinel is set while prompt is the private marker.
	sentinel bool
}

func (a *actor) run(ctx context.Context, ready, done chan<- struct{}) {
	defer close(done)
	defer a.release()

	err := a.setup(ctx)
	if err != nil {
		a.log.Debug().Err(err).Msg("setup failed")
		a.cfg.Console.Error(err.Error())
		a.h.fail(err)
		close(ready)
		return
	}

	a.h.setState(Idle)
	a.log.Debug().Msg("session ready")
	close(ready)

	a.loop(ctx)
}

func (a *actor) setup(ctx context.Context) error {
	a.cfg.Console.Line(a.cfg.Title, a.cfg.Body)

	trace := &connector.Trace{
		Authenticating: func() { a.h.setState(Authenticating) },
	}
	t, err := a.cfg.Dialer.Dial(connector.WithTrace(ctx, trace), a.cfg.Addr, a.cfg.Auth)
	if err != nil {
		return err
	}
	a.transport = t

	sh, err := t.OpenShell(ctx)
	if err != nil {
		return connector.Errorf(connector.ChannelUnavailable, "Unable to open shell: %w", err)
	}
	a.shell = sh
	a.stream = scanner.NewStream(sh)
	a.h.setState(ShellReady)

	// The real prompt is only a guess at this point
	if _, err := a.scan(ctx, a.cfg.SetupTimeout, a.prompt, 0, true); err != nil {
		if !errors.Is(err, scanner.ErrTimeout) {
			return connector.Errorf(connector.ChannelUnavailable, "Unable to read shell output: %w", err)
		}
		a.log.Debug().Msg("initial prompt not found")
	}

	return a.installSentinel(ctx)
}

// installSentinel replaces the shell prompt with a private marker and drains
// the echo of the assignment and the first marked prompt.
func (a *actor) installSentinel(ctx context.Context) error {
	sentinel := Sentinel()
	if _, err := fmt.Fprintf(a.shell, "PS1='%s'\n", sentinel); err != nil {
		return connector.Errorf(connector.ChannelUnavailable, "Unable to write to shell: %w", err)
	}
	a.prompt = regexp.MustCompile(regexp.QuoteMeta(sentinel))
	a.sentinel = true

	for i := 0; i < 2; i++ {
		if _, err := a.scan(ctx, a.cfg.SetupTimeout, a.prompt, 0, false); err != nil {
			return connector.Errorf(connector.ChannelUnavailable, "Unable to set shell prompt: %w", err)
		}
	}

	a.log.Debug().Str("prompt", sentinel).Msg("sentinel prompt installed")
	return nil
}

// Sentinel returns a new private prompt marker.
func Sentinel() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "trs-" + id[:12] + "> "
}

func (a *actor) loop(ctx context.Context) {
	for {
		var c Command
		select {
		case cmd, ok := <-a.requests:
			if !ok {
				return
			}
			c = cmd
		case <-ctx.Done():
			a.h.setState(Closed)
			return
		}

		if _, ok := c.(CloseCommand); ok {
			a.log.Debug().Msg("session closed")
			a.h.setState(Closed)
			return
		}

		a.h.setState(Executing)
		resp, fatal := a.handle(ctx, c)
		if fatal != nil {
			a.h.fail(fatal)
			a.replies <- resp
			return
		}
		a.h.setState(Idle)
		a.replies <- resp
	}
}

// handle runs one command. A non-nil error means the shell is unusable.
func (a *actor) handle(ctx context.Context, c Command) (Response, error) {
	switch c := c.(type) {
	case ExecCommand:
		return a.exec(ctx, c)
	case SetPromptCommand:
		return a.setPrompt(c), nil
	case SendFileCommand:
		return a.sendFile(ctx, c), nil
	default:
		panic(connector.Errorf(connector.ProtocolMisuse, "unexpected command %T", c))
	}
}

func (a *actor) exec(ctx context.Context, c ExecCommand) (Response, error) {
	body := c.Text
	if c.Prompt != nil {
		body += " / " + *c.Prompt
	}
	if c.WithPrompt {
		body += " / Hold"
	}
	a.cfg.Console.Line(titleExec, body)

	prompt := a.prompt
	if c.Prompt != nil {
		p, err := regexp.Compile(*c.Prompt)
		if err != nil {
			msg := fmt.Sprintf("Incorrect prompt regexp '%s'", *c.Prompt)
			a.cfg.Console.Error(msg)
			return FailureResponse{Message: msg}, nil
		}
		prompt = p
	}

	a.cfg.Log.StartBlock()
	a.cfg.Log.LogCommand(c.Text)
	defer a.cfg.Log.EndBlock()

	if _, err := io.WriteString(a.shell, c.Text+"\n"); err != nil {
		err = connector.Errorf(connector.ChannelUnavailable, "Unable to write to shell: %w", err)
		a.cfg.Console.Error(err.Error())
		return FailureResponse{Message: err.Error()}, err
	}

	out, err := a.scan(ctx, a.cfg.ReadTimeout, prompt, len(c.Text)+2, c.WithPrompt)
	if err != nil {
		if errors.Is(err, scanner.ErrTimeout) {
			return a.resync(ctx, err)
		}
		err = connector.Errorf(connector.ChannelUnavailable, "Unable to read shell output: %w", err)
		a.cfg.Console.Error(err.Error())
		return FailureResponse{Message: err.Error()}, err
	}

	a.cfg.Log.LogOutput(out)
	a.log.Debug().Str("cmd", c.Text).Int("bytes", len(out)).Msg("exec done")
	return TextResponse{Text: out}, nil
}

// resync brings the stream back in step with the shell after a command
// missed its prompt. Late output of the command would otherwise be read as
// the output of the next one. Only the private marker can be reinstalled, so
// a session running under a custom prompt fails instead.
func (a *actor) resync(ctx context.Context, cause error) (Response, error) {
	msg := fmt.Sprintf("Prompt not found: %v", cause)
	a.cfg.Console.Error(msg)

	if !a.sentinel {
		err := connector.Errorf(connector.ChannelUnavailable, "Prompt not found: %w", cause)
		return FailureResponse{Message: msg}, err
	}

	if err := a.installSentinel(ctx); err != nil {
		a.log.Debug().Err(err).Msg("resync failed")
		a.cfg.Console.Error(err.Error())
		return FailureResponse{Message: msg}, err
	}

	a.log.Debug().Msg("stream resynced")
	return FailureResponse{Message: msg}, nil
}

func (a *actor) setPrompt(c SetPromptCommand) Response {
	a.cfg.Console.Line(titleSetPrompt, c.Pattern)

	p, err := regexp.Compile(c.Pattern)
	if err != nil {
		a.cfg.Console.Error(fmt.Sprintf("Incorrect prompt regexp '%s'", c.Pattern))
		return BoolResponse{Value: false}
	}

	a.prompt = p
	a.sentinel = false
	return BoolResponse{Value: true}
}

func (a *actor) sendFile(ctx context.Context, c SendFileCommand) Response {
	body := fmt.Sprintf("%s -> %s", c.Source, c.Dest)
	progress := &consoleProgress{console: a.cfg.Console, body: body}

	open := func(size int64, mode os.FileMode) (io.WriteCloser, error) {
		return a.transport.CreateFile(c.Dest, mode, size)
	}

	sent, err := transfer.Send(ctx, c.Source, open, progress)
	if err != nil {
		progress.fail(err.Error())
		a.log.Debug().Err(err).Str("src", c.Source).Msg("send file failed")
		return FailureResponse{Message: err.Error()}
	}

	a.log.Debug().Str("src", c.Source).Str("dest", c.Dest).Int64("bytes", sent).Msg("file sent")
	return BoolResponse{Value: true}
}

// scan reads shell output up to prompt, bounded by timeout when positive.
func (a *actor) scan(ctx context.Context, timeout time.Duration, prompt *regexp.Regexp, skip int, withPrompt bool) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.stream.Scan(ctx, prompt, skip, withPrompt)
}

func (a *actor) release() {
	if a.stream != nil {
		a.stream.Close()
	}
	if a.shell != nil {
		if err := a.shell.Close(); err != nil {
			a.log.Debug().Err(err).Msg("closing shell")
		}
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			a.log.Debug().Err(err).Msg("closing transport")
		}
	}
}
