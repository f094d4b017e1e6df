package script

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/eugenetaranov/trs/internal/binding"
	"github.com/eugenetaranov/trs/internal/console"
	"github.com/eugenetaranov/trs/internal/outlog"
	"github.com/eugenetaranov/trs/internal/session"
)

// maxIncludeDepth bounds nested includes.
const maxIncludeDepth = 16

// Runtime is what scripts run against. It is implemented by
// *runtime.Registry.
type Runtime interface {
	binding.Runtime

	// CloseAll closes every connection opened by the script.
	CloseAll()
}

// Executor runs scripts.
type Executor struct {
	Runtime Runtime
	Console *console.Shared
	Log     *outlog.Logger
	Logger  zerolog.Logger

	// LibPaths are extra directories searched for includes.
	LibPaths []string

	// Dir is the working directory exposed to scripts as "dir".
	Dir string
}

// Stats holds execution statistics.
type Stats struct {
	Steps     int
	OK        int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the total execution time.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// New creates a new executor.
func New(rt Runtime, c *console.Shared, log *outlog.Logger) *Executor {
	dir, _ := os.Getwd()
	return &Executor{
		Runtime: rt,
		Console: c,
		Log:     log,
		Logger:  zerolog.Nop(),
		Dir:     dir,
	}
}

// Run executes s with the given script arguments. Connections are closed
// when it returns, whether the script failed or not. A failure is also
// reported on the console.
func (e *Executor) Run(ctx context.Context, s *Script, args []string) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	defer e.Runtime.CloseAll()

	name := s.DisplayName()
	e.Log.StartScript(name)
	defer e.Log.EndScript(name)

	scope := NewScope(s.Vars, args, e.Dir)
	err := e.runSteps(ctx, scope, s.Steps, 0, stats)
	stats.EndTime = time.Now()

	e.Logger.Debug().
		Str("script", name).
		Int("steps", stats.Steps).
		Int("failed", stats.Failed).
		Int("skipped", stats.Skipped).
		Dur("duration", stats.Duration()).
		Msg("script finished")

	if err != nil {
		e.Console.Error("execution error -> " + err.Error())
		return stats, err
	}
	return stats, nil
}

func (e *Executor) runSteps(ctx context.Context, scope *Scope, steps []*Step, depth int, stats *Stats) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.runStep(ctx, scope, step, depth, stats); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes a single step, including its condition and loop.
func (e *Executor) runStep(ctx context.Context, scope *Scope, step *Step, depth int, stats *Stats) error {
	if step.When != "" {
		ok, err := scope.Evaluate(step.When)
		if err != nil {
			return fmt.Errorf("%s: failed to evaluate 'when' condition: %w", step, err)
		}
		if !ok {
			stats.Skipped++
			e.Logger.Debug().Str("step", step.String()).Msg("skipped, when condition not met")
			return nil
		}
	}

	if step.Loop == nil {
		return e.runOnce(ctx, scope, step, depth, stats)
	}

	items, err := e.loopItems(scope, step)
	if err != nil {
		return err
	}

	loopVar := step.GetLoopVar()
	defer scope.Unset(loopVar)
	defer scope.Unset("loop_index")

	for i, item := range items {
		scope.Set(loopVar, item)
		scope.Set("loop_index", i)
		if err := e.runOnce(ctx, scope, step, depth, stats); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) loopItems(scope *Scope, step *Step) ([]any, error) {
	v, err := scope.Interpolate(step.Loop)
	if err != nil {
		return nil, fmt.Errorf("%s: loop: %w", step, err)
	}
	switch items := v.(type) {
	case []any:
		return items, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: loop must evaluate to a list, got %T", step, v)
	}
}

func (e *Executor) runOnce(ctx context.Context, scope *Scope, step *Step, depth int, stats *Stats) error {
	if step.Include != "" {
		return e.runInclude(ctx, scope, step, depth, stats)
	}

	stats.Steps++
	res, err := e.call(ctx, scope, step)
	if err != nil {
		stats.Failed++
		return fmt.Errorf("%s: %w", step, err)
	}

	if step.Register != "" {
		scope.Set(step.Register, registered(res))
	}

	if res.Error {
		stats.Failed++
		if !step.IgnoreErrors {
			return fmt.Errorf("%s: %s", step, res.Out)
		}
		e.Logger.Debug().Str("step", step.String()).Str("error", res.Out).Msg("failure ignored")
		return nil
	}

	stats.OK++
	return nil
}

// call resolves, prepares and invokes the binding of step.
func (e *Executor) call(ctx context.Context, scope *Scope, step *Step) (*binding.Result, error) {
	b, err := ResolveBinding(step)
	if err != nil {
		return nil, err
	}

	s := *step
	if err := ExpandShorthand(&s, b); err != nil {
		return nil, err
	}

	params, err := scope.InterpolateParams(s.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to interpolate parameters: %w", err)
	}

	if err := resolveConn(scope, params); err != nil {
		return nil, err
	}

	e.Logger.Debug().Str("binding", step.Binding).Str("step", step.String()).Msg("calling binding")
	return b.Call(ctx, e.Runtime, params)
}

// resolveConn replaces a connection name in params with the connection
// registered under it.
func resolveConn(scope *Scope, params map[string]any) error {
	name, ok := params["conn"].(string)
	if !ok {
		return nil
	}

	h, ok := scope.Lookup(name).(*session.Handle)
	if !ok {
		return fmt.Errorf("connection '%s' is not defined", name)
	}
	params["conn"] = h
	return nil
}

// registered returns what a step with register stores.
func registered(res *binding.Result) any {
	if res.Value != nil {
		return res.Value
	}
	return map[string]any{
		"error": res.Error,
		"out":   res.Out,
	}
}

func (e *Executor) runInclude(ctx context.Context, scope *Scope, step *Step, depth int, stats *Stats) error {
	if depth >= maxIncludeDepth {
		return fmt.Errorf("%s: includes nested deeper than %d", step, maxIncludeDepth)
	}

	name, err := scope.Interpolate(step.Include)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	path, err := ResolveInclude(fmt.Sprint(name), SearchPath(step.Dir, e.LibPaths))
	if err != nil {
		return err
	}

	steps, vars, err := LoadSteps(path)
	if err != nil {
		return err
	}
	for k, v := range vars {
		scope.SetDefault(k, v)
	}

	e.Logger.Debug().Str("include", path).Int("steps", len(steps)).Msg("running include")
	return e.runSteps(ctx, scope, steps, depth+1, stats)
}

// Check resolves every binding and include of s without running it.
func (e *Executor) Check(s *Script) error {
	return e.check(s.Steps, 0)
}

func (e *Executor) check(steps []*Step, depth int) error {
	for _, step := range steps {
		if step.Include == "" {
			if _, err := ResolveBinding(step); err != nil {
				return fmt.Errorf("%s: %w", step, err)
			}
			continue
		}

		if depth >= maxIncludeDepth {
			return fmt.Errorf("%s: includes nested deeper than %d", step, maxIncludeDepth)
		}
		if varPattern.MatchString(step.Include) {
			// Only known at run time
			continue
		}
		path, err := ResolveInclude(step.Include, SearchPath(step.Dir, e.LibPaths))
		if err != nil {
			return err
		}
		included, _, err := LoadSteps(path)
		if err != nil {
			return err
		}
		if err := e.check(included, depth+1); err != nil {
			return err
		}
	}
	return nil
}
