package stagequeue

import (
	"context"
	"fmt"

	"github.com/davidroman0O/stagequeue/extensions"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
)

// Project is the long-lived owner a StagedQueue is attached to.
// A project is configured, then evaluated once; evaluation runs the
// configuration blocks followed by the after-evaluate listeners. Queues
// attached to the project drain from one of those listeners.
type Project struct {
	// ID is the unique identifier for the project
	ID string
	// Name is a human-readable name for the project
	Name string

	mu         deadlock.Mutex
	ctx        context.Context
	state      ProjectState
	configure  []Listener
	afterEval  []Listener
	extensions *extensions.Container
	plugins    *PluginManager
	parent     *Project
	logger     Logger
}

// ProjectOption configures a Project
type ProjectOption func(*Project)

// WithProjectLogger sets the project's logger
func WithProjectLogger(logger Logger) ProjectOption {
	return func(p *Project) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithParent marks the project as a child of parent
func WithParent(parent *Project) ProjectOption {
	return func(p *Project) {
		p.parent = parent
	}
}

// NewProject creates an unevaluated project with a fresh ID.
func NewProject(name string, opts ...ProjectOption) *Project {
	p := &Project{
		ID:         uuid.NewString(),
		Name:       name,
		state:      StateUnevaluated,
		extensions: extensions.NewContainer(),
		logger:     NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.plugins = newPluginManager(p)
	return p
}

// Path returns the colon separated project path, ":" for a root project.
func (p *Project) Path() string {
	if p.parent == nil {
		return ":"
	}
	parent := p.parent.Path()
	if parent == ":" {
		return ":" + p.Name
	}
	return parent + ":" + p.Name
}

// Parent returns the parent project, or nil for a root project.
func (p *Project) Parent() *Project {
	return p.parent
}

// Logger returns the project's logger
func (p *Project) Logger() Logger {
	return p.logger
}

// Extensions returns the project's extension container
func (p *Project) Extensions() *extensions.Container {
	return p.extensions
}

// Plugins returns the project's plugin manager
func (p *Project) Plugins() *PluginManager {
	return p.plugins
}

// State returns the project's evaluation state
func (p *Project) State() ProjectState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Context returns the context passed to Evaluate, or context.Background()
// before evaluation.
func (p *Project) Context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

// Executed reports whether the project has finished evaluating.
func (p *Project) Executed() bool {
	return p.State() == StateEvaluated
}

// Configure adds a configuration block run at the start of Evaluate, in
// registration order.
func (p *Project) Configure(fn Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateEvaluating:
		return fmt.Errorf("cannot configure project %s: %w", p.Path(), ErrEvaluating)
	case StateEvaluated:
		return fmt.Errorf("cannot configure project %s: %w", p.Path(), ErrAlreadyEvaluated)
	}
	p.configure = append(p.configure, fn)
	return nil
}

// AfterEvaluate adds a listener notified once the project's configuration
// blocks have run. Listeners added while listeners are running are still
// notified, after the ones already registered.
func (p *Project) AfterEvaluate(fn Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateEvaluated {
		return fmt.Errorf("cannot run AfterEvaluate on %s: %w", p.Path(), ErrAlreadyEvaluated)
	}
	p.afterEval = append(p.afterEval, fn)
	return nil
}

// Evaluate runs the configuration blocks, then the after-evaluate listeners,
// then marks the project evaluated. The first failing block aborts
// evaluation; the project is marked evaluated regardless.
func (p *Project) Evaluate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	switch p.state {
	case StateEvaluated:
		p.mu.Unlock()
		return fmt.Errorf("cannot evaluate %s: %w", p.Path(), ErrAlreadyEvaluated)
	case StateEvaluating:
		p.mu.Unlock()
		return fmt.Errorf("cannot evaluate %s: %w", p.Path(), ErrEvaluating)
	}
	p.state = StateEvaluating
	p.ctx = ctx
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.state = StateEvaluated
		p.afterEval = nil
		p.configure = nil
		p.mu.Unlock()
	}()

	p.logger.Debug("Evaluating project %s (%s)", p.Path(), p.ID)

	// Configuration blocks cannot be added once evaluation started
	for i, block := range p.configure {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("evaluation of %s cancelled: %w", p.Path(), err)
		}
		if err := block(p); err != nil {
			return fmt.Errorf("configuration block %d of %s failed: %w", i+1, p.Path(), err)
		}
	}

	// Listeners may register more listeners, so the slice is re-read on
	// every iteration
	for i := 0; ; i++ {
		p.mu.Lock()
		if i >= len(p.afterEval) {
			p.state = StateEvaluated
			p.mu.Unlock()
			break
		}
		listener := p.afterEval[i]
		p.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("evaluation of %s cancelled: %w", p.Path(), err)
		}
		if err := listener(p); err != nil {
			return fmt.Errorf("after-evaluate listener of %s failed: %w", p.Path(), err)
		}
	}

	p.logger.Info("Evaluated project %s", p.Path())
	return nil
}
