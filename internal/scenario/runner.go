package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/davidroman0O/stagequeue"
	"golang.org/x/sync/errgroup"
)

// ExtensionReport is the extension name under which each simulated project
// keeps its Report.
const ExtensionReport = "scenarioReport"

// EventKind classifies trace events.
type EventKind string

const (
	EventPlugin         EventKind = "plugin"
	EventListener       EventKind = "listener"
	EventStart          EventKind = "start"
	EventEnd            EventKind = "end"
	EventFail           EventKind = "fail"
	EventStageCompleted EventKind = "stage-completed"
)

// Event is one entry of a project's execution trace.
type Event struct {
	Kind   EventKind `json:"kind"`
	Name   string    `json:"name,omitempty"`
	Stage  string    `json:"stage,omitempty"`
	Inline bool      `json:"inline,omitempty"`
	Depth  int       `json:"depth"`
	Seq    uint64    `json:"seq,omitempty"`
	// Count is the number of actions a completed stage executed
	Count int `json:"count,omitempty"`
}

// Report summarizes one simulated project.
type Report struct {
	Project string                `json:"project"`
	Events  []Event               `json:"events"`
	Stats   stagequeue.QueueStats `json:"stats"`
	Error   string                `json:"error,omitempty"`
}

// Result is the outcome of simulating one project.
type Result struct {
	Project *stagequeue.Project
	Report  Report
	// Err is the evaluation or scheduling failure, if any
	Err error
}

// LoggerFunc returns the logger used for the named project.
type LoggerFunc func(project string) stagequeue.Logger

// Runner replays scenarios.
type Runner struct {
	loggers          LoggerFunc
	observers        []stagequeue.Observer
	middleware       []stagequeue.ActionMiddleware
	deferringPlugins []string
	concurrency      int
}

// Option configures a Runner
type Option func(*Runner)

// WithLoggers sets the per-project logger factory
func WithLoggers(fn LoggerFunc) Option {
	return func(r *Runner) {
		r.loggers = fn
	}
}

// WithObservers adds observers to every simulated queue
func WithObservers(observers ...stagequeue.Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, observers...)
	}
}

// WithMiddleware adds action middleware to every simulated queue
func WithMiddleware(middleware ...stagequeue.ActionMiddleware) Option {
	return func(r *Runner) {
		r.middleware = append(r.middleware, middleware...)
	}
}

// WithDeferringPlugins sets the deferring plugin ids for projects that do
// not list their own
func WithDeferringPlugins(ids ...string) Option {
	return func(r *Runner) {
		r.deferringPlugins = append([]string{}, ids...)
	}
}

// WithConcurrency bounds how many projects are simulated at once
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner creates a runner
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		loggers: func(string) stagequeue.Logger {
			return stagequeue.NewDefaultLogger()
		},
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run simulates every project of sc, at most the configured number at a
// time. Results keep the scenario's project order. Action failures are
// reported per project in Result.Err; the returned error is only set when
// ctx ends first.
func (r *Runner) Run(ctx context.Context, sc *Scenario) ([]*Result, error) {
	results := make([]*Result, len(sc.Projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, def := range sc.Projects {
		g.Go(func() error {
			res, err := r.RunProject(gctx, def)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunProject builds and evaluates one project.
func (r *Runner) RunProject(ctx context.Context, def Project) (res *Result, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &recorder{}
	project := stagequeue.NewProject(def.Name, stagequeue.WithProjectLogger(r.loggers(def.Name)))
	res = &Result{Project: project}

	defer func() {
		if v := recover(); v != nil {
			if perr, ok := v.(error); ok {
				res.Err = fmt.Errorf("project %s panicked: %w", def.Name, perr)
			} else {
				res.Err = fmt.Errorf("project %s panicked: %v", def.Name, v)
			}
		}
		res.Report = rec.report(def.Name, res.Err)
		if q, ok := project.Extensions().FindByName(stagequeue.ExtensionQueue); ok {
			res.Report.Stats = q.(*stagequeue.StagedQueue).Stats()
		}
		if addErr := project.Extensions().Add(ExtensionReport, res.Report, "scenario"); addErr != nil {
			project.Logger().Warn("Failed to attach report: %v", addErr)
		}
	}()

	if res.Err = r.registerPlugins(project, def, rec); res.Err != nil {
		return res, nil
	}
	for _, name := range def.Listeners {
		if err := project.AfterEvaluate(func(p *stagequeue.Project) error {
			rec.add(Event{Kind: EventListener, Name: name})
			return nil
		}); err != nil {
			res.Err = err
			return res, nil
		}
	}

	if def.EvaluateFirst {
		if res.Err = project.Evaluate(ctx); res.Err != nil {
			return res, nil
		}
		queue := stagequeue.QueueFor(project, r.queueOptions(def, rec)...)
		res.Err = scheduleAll(queue, rec, def.Actions)
		return res, nil
	}

	queue := stagequeue.QueueFor(project, r.queueOptions(def, rec)...)
	if res.Err = scheduleAll(queue, rec, def.Actions); res.Err != nil {
		return res, nil
	}
	res.Err = project.Evaluate(ctx)
	return res, nil
}

func (r *Runner) registerPlugins(project *stagequeue.Project, def Project, rec *recorder) error {
	if len(def.Plugins) == 0 {
		return nil
	}
	registered := make(map[string]bool, len(def.Plugins))
	for _, id := range def.Plugins {
		if registered[id] {
			continue
		}
		registered[id] = true
		project.Plugins().Register(id, func(p *stagequeue.Project) error {
			rec.add(Event{Kind: EventPlugin, Name: id})
			return p.AfterEvaluate(func(p *stagequeue.Project) error {
				rec.add(Event{Kind: EventListener, Name: id})
				return nil
			})
		})
	}
	// Applied while the project configures, the way a build script would. Each
	// plugin adds an after-evaluate listener of its own when applied.
	return project.Configure(func(p *stagequeue.Project) error {
		for _, id := range def.Plugins {
			if err := p.Plugins().Apply(id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Runner) queueOptions(def Project, rec *recorder) []stagequeue.QueueOption {
	opts := []stagequeue.QueueOption{
		stagequeue.WithObserver(rec),
		stagequeue.WithObserver(r.observers...),
		stagequeue.WithMiddleware(r.middleware...),
		// Innermost, so it sees what actually reaches the action
		stagequeue.WithMiddleware(rec.middleware()),
	}
	switch {
	case len(def.DeferringPlugins) > 0:
		opts = append(opts, stagequeue.WithDeferringPlugins(def.DeferringPlugins...))
	case r.deferringPlugins != nil:
		opts = append(opts, stagequeue.WithDeferringPlugins(r.deferringPlugins...))
	}
	return opts
}

func scheduleAll(queue *stagequeue.StagedQueue, rec *recorder, actions []Action) error {
	for _, a := range actions {
		if err := queue.ScheduleAt(a.Stage, rec.action(queue, a, 0)); err != nil {
			return err
		}
	}
	return nil
}

// recorder collects a project's trace. It tracks the execution being run so
// actions can report whether they ran inline.
type recorder struct {
	mu     sync.Mutex
	events []Event
	execs  []stagequeue.Execution
}

func (rec *recorder) add(e Event) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.events = append(rec.events, e)
}

func (rec *recorder) current() stagequeue.Execution {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.execs[len(rec.execs)-1]
}

func (rec *recorder) middleware() stagequeue.ActionMiddleware {
	return func(next stagequeue.ActionRunnerFunc) stagequeue.ActionRunnerFunc {
		return func(p *stagequeue.Project, exec stagequeue.Execution) error {
			rec.mu.Lock()
			rec.execs = append(rec.execs, exec)
			rec.mu.Unlock()

			defer func() {
				rec.mu.Lock()
				rec.execs = rec.execs[:len(rec.execs)-1]
				rec.mu.Unlock()
			}()
			return next(p, exec)
		}
	}
}

func (rec *recorder) action(queue *stagequeue.StagedQueue, def Action, depth int) stagequeue.Action {
	return func(p *stagequeue.Project) error {
		exec := rec.current()
		event := Event{
			Name:   def.Name,
			Stage:  exec.Stage.String(),
			Inline: exec.Inline,
			Depth:  depth,
			Seq:    exec.Seq,
		}

		event.Kind = EventStart
		rec.add(event)

		for _, child := range def.Then {
			if err := queue.ScheduleAt(child.Stage, rec.action(queue, child, depth+1)); err != nil {
				return fmt.Errorf("%s: %w", def.Name, err)
			}
		}

		if def.Fail != "" {
			event.Kind = EventFail
			rec.add(event)
			return errors.New(def.Fail)
		}

		event.Kind = EventEnd
		rec.add(event)
		return nil
	}
}

var _ stagequeue.Observer = (*recorder)(nil)

// ActionScheduled implements stagequeue.Observer. The trace only holds what
// ran; scheduling shows up in Report.Stats.
func (rec *recorder) ActionScheduled(p *stagequeue.Project, stage stagequeue.Stage, d stagequeue.Disposition) {
}

// StageCompleted implements stagequeue.Observer
func (rec *recorder) StageCompleted(p *stagequeue.Project, stage stagequeue.Stage, executed int) {
	rec.add(Event{Kind: EventStageCompleted, Stage: stage.String(), Count: executed})
}

func (rec *recorder) report(project string, err error) Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	report := Report{
		Project: project,
		Events:  append([]Event{}, rec.events...),
	}
	if err != nil {
		report.Error = err.Error()
	}
	return report
}
