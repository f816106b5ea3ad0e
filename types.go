package stagequeue

// Action is a unit of deferred work run against its owning project.
// Actions may schedule further actions on the same queue.
type Action func(p *Project) error

// Listener is a project lifecycle callback such as an after-evaluate hook
// or a build-script configuration block.
type Listener func(p *Project) error

// Execution describes one run of a scheduled action.
type Execution struct {
	// Stage is the stage the action was scheduled for
	Stage Stage
	// Inline is true when the action ran synchronously inside ScheduleAt
	// because its stage had already been drained
	Inline bool
	// Seq is the queue-wide scheduling sequence number of the action
	Seq uint64
	// Action is the scheduled action itself
	Action Action
}

// ActionRunnerFunc is the core function type for executing a scheduled action.
type ActionRunnerFunc func(p *Project, exec Execution) error

// ActionMiddleware represents a function that wraps action execution.
// It allows performing operations before and after an action executes,
// whether it runs inline or while the queue drains.
type ActionMiddleware func(next ActionRunnerFunc) ActionRunnerFunc

// Disposition records what ScheduleAt decided to do with an action.
type Disposition string

const (
	// DispositionQueued means the action was appended to its stage's queue.
	DispositionQueued Disposition = "queued"
	// DispositionInline means the action ran immediately inside ScheduleAt.
	DispositionInline Disposition = "inline"
)

// Observer receives queue events. Implementations must not call back into
// the queue that notifies them.
type Observer interface {
	// ActionScheduled is called once per ScheduleAt call, before an inline
	// action runs.
	ActionScheduled(p *Project, stage Stage, d Disposition)

	// StageCompleted is called when drain marks a stage as completed.
	// executed counts the actions drained for that stage.
	StageCompleted(p *Project, stage Stage, executed int)
}

// Logger provides a simple interface for queue and project logging
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// ProjectState is the evaluation state of a project.
type ProjectState string

const (
	// StateUnevaluated means Evaluate has not been called yet
	StateUnevaluated ProjectState = "unevaluated"

	// StateEvaluating means configuration blocks or after-evaluate
	// listeners are running
	StateEvaluating ProjectState = "evaluating"

	// StateEvaluated means evaluation finished, successfully or not
	StateEvaluated ProjectState = "evaluated"
)

// Extension names and tags used in a project's extension container
const (
	// ExtensionQueue is the name under which QueueFor memoizes the queue
	ExtensionQueue = "evaluationQueue"

	// TagSystem identifies extensions managed by this package
	TagSystem = "system"
)
