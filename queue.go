package stagequeue

import (
	"errors"
	"fmt"
	"sync/atomic"

	list "github.com/bahlo/generic-list-go"
	"github.com/davidroman0O/stagequeue/extensions"
	"github.com/sasha-s/go-deadlock"
)

// StagedQueue defers actions until its project has been evaluated, then runs
// them stage by stage. It is attached to exactly one project; obtain it with
// QueueFor.
//
// Actions may call ScheduleAt themselves. An action scheduled for the stage
// currently draining, or a later one, is queued and still runs during this
// drain. An action scheduled for a stage that already completed runs inline.
type StagedQueue struct {
	project *Project

	mu        deadlock.Mutex
	queues    map[Stage]*list.List[pendingAction]
	latest    Stage
	completed bool
	draining  bool
	seq       uint64
	stats     QueueStats

	middleware       []ActionMiddleware
	observers        []Observer
	deferringPlugins []string
	logger           Logger
}

type pendingAction struct {
	seq    uint64
	action Action
}

// QueueStats is a snapshot of a queue's counters.
type QueueStats struct {
	// Scheduled counts every ScheduleAt call that accepted an action
	Scheduled int `json:"scheduled"`
	// Inline counts actions executed inline
	Inline int `json:"inline"`
	// Drained counts actions executed while draining
	Drained int `json:"drained"`
	// Pending maps stage names to the number of queued actions
	Pending map[string]int `json:"pending"`
	// LatestCompleted is the latest completed stage, empty before drain
	LatestCompleted string `json:"latestCompleted,omitempty"`
}

// QueueOption configures a StagedQueue when it is created
type QueueOption func(*StagedQueue)

// WithMiddleware adds action middleware to the queue
func WithMiddleware(middleware ...ActionMiddleware) QueueOption {
	return func(q *StagedQueue) {
		q.middleware = append(q.middleware, middleware...)
	}
}

// WithObserver adds observers notified of scheduling decisions and stage
// completion
func WithObserver(observers ...Observer) QueueOption {
	return func(q *StagedQueue) {
		q.observers = append(q.observers, observers...)
	}
}

// WithLogger sets the queue's logger; it defaults to the project's logger
func WithLogger(logger Logger) QueueOption {
	return func(q *StagedQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithDeferringPlugins replaces DefaultDeferringPlugins for this queue
func WithDeferringPlugins(ids ...string) QueueOption {
	return func(q *StagedQueue) {
		q.deferringPlugins = append([]string{}, ids...)
	}
}

// QueueFor returns the project's queue, creating it on first use. Repeated
// calls return the same instance; options only apply to the call that
// creates it.
//
// It panics if the project's "evaluationQueue" extension holds something
// other than a *StagedQueue.
func QueueFor(p *Project, opts ...QueueOption) *StagedQueue {
	q, err := extensions.GetOrCreate(p.Extensions(), ExtensionQueue, func() *StagedQueue {
		return newStagedQueue(p, opts...)
	}, TagSystem)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrQueueTypeMismatch, err))
	}
	return q
}

func newStagedQueue(p *Project, opts ...QueueOption) *StagedQueue {
	q := &StagedQueue{
		project:          p,
		queues:           make(map[Stage]*list.List[pendingAction], len(stages)),
		deferringPlugins: DefaultDeferringPlugins,
		logger:           p.Logger(),
	}
	for _, s := range stages {
		q.queues[s] = list.New[pendingAction]()
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = withPrefix(q.logger, "[queue "+p.Path()+"] ")

	if p.Executed() {
		q.markAllCompleted()
		return q
	}
	if err := q.scheduleAfterEvaluation(); err != nil {
		if !errors.Is(err, ErrAlreadyEvaluated) {
			q.logger.Error("Failed to hook project evaluation: %v", err)
		}
		q.markAllCompleted()
	}
	return q
}

func (q *StagedQueue) markAllCompleted() {
	q.mu.Lock()
	q.latest = LastStage()
	q.completed = true
	q.mu.Unlock()
	q.logger.Debug("Project already evaluated, actions will run inline")
}

// scheduleAfterEvaluation registers the drain with the project. A deferring
// plugin applied before evaluation finishes moves the registration into the
// plugin's callback; whichever path fires first wins and the other is a no-op.
func (q *StagedQueue) scheduleAfterEvaluation() error {
	var dispatched atomic.Bool

	for _, id := range q.deferringPlugins {
		err := q.project.Plugins().WithPlugin(id, func(p *Project) error {
			if dispatched.Swap(true) {
				return nil
			}
			q.logger.Debug("Deferring drain until after %s listeners", id)
			return p.AfterEvaluate(func(p *Project) error {
				return q.processQueues()
			})
		})
		if err != nil {
			return err
		}
	}

	return q.project.AfterEvaluate(func(p *Project) error {
		if dispatched.Swap(true) {
			return nil
		}
		return q.processQueues()
	})
}

// Use adds middleware to the queue's middleware chain.
// Middleware is executed in the order it is added.
func (q *StagedQueue) Use(middleware ...ActionMiddleware) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.middleware = append(q.middleware, middleware...)
}

// Owner returns the project the queue is attached to
func (q *StagedQueue) Owner() *Project {
	return q.project
}

// Schedule schedules action for DefaultStage.
func (q *StagedQueue) Schedule(action Action) error {
	return q.ScheduleAt(DefaultStage, action)
}

// ScheduleAt queues action for stage, or runs it right away when stage has
// already been drained. On the inline path the action's error is returned.
// When the project finished evaluating without draining stage, because a
// configuration block, a listener or an earlier action failed, the action is
// rejected with ErrQueueAborted. It panics if action is nil.
func (q *StagedQueue) ScheduleAt(stage Stage, action Action) error {
	if action == nil {
		panic(ErrNilAction)
	}
	if !stage.Valid() {
		return fmt.Errorf("cannot schedule on %s: %w: %d", q.project.Path(), ErrUnknownStage, int(stage))
	}

	q.mu.Lock()
	inline := q.completed && stage.AtOrBefore(q.latest)
	if !inline && !q.draining && q.project.Executed() {
		// Evaluation ended before this stage drained; nothing will run it.
		q.mu.Unlock()
		return fmt.Errorf("cannot schedule %s action on %s: %w", stage, q.project.Path(), ErrQueueAborted)
	}
	q.seq++
	pending := pendingAction{seq: q.seq, action: action}
	if !inline {
		q.queues[stage].PushBack(pending)
	}
	q.stats.Scheduled++
	observers := q.observers
	q.mu.Unlock()

	disposition := DispositionQueued
	if inline {
		disposition = DispositionInline
	}
	q.logger.Debug("Action #%d for %s %s", pending.seq, stage, disposition)
	for _, o := range observers {
		o.ActionScheduled(q.project, stage, disposition)
	}

	if !inline {
		return nil
	}
	return q.run(pending, stage, true)
}

// processQueues drains every stage in order. Each stage is re-polled after
// every action so that actions added while it drains run before it completes.
func (q *StagedQueue) processQueues() error {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	q.logger.Debug("Draining queues")
	for _, stage := range stages {
		executed := 0
		for {
			pending, ok := q.popOrComplete(stage)
			if !ok {
				break
			}
			executed++
			if err := q.run(pending, stage, false); err != nil {
				q.logger.Error("Action #%d for %s failed: %v", pending.seq, stage, err)
				return fmt.Errorf("%s action #%d failed: %w", stage, pending.seq, err)
			}
		}

		q.logger.Debug("Completed %s (%d actions)", stage, executed)
		q.mu.Lock()
		observers := q.observers
		q.mu.Unlock()
		for _, o := range observers {
			o.StageCompleted(q.project, stage, executed)
		}
	}

	q.assertEmpty()
	return nil
}

// popOrComplete removes the front action of stage, or marks stage completed
// when its queue is empty. Both happen under one lock so a concurrent
// ScheduleAt either lands in the queue before completion or runs inline.
func (q *StagedQueue) popOrComplete(stage Stage) (pendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[stage]
	if front := queue.Front(); front != nil {
		return queue.Remove(front), true
	}
	q.latest = stage
	q.completed = true
	return pendingAction{}, false
}

func (q *StagedQueue) assertEmpty() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, stage := range stages {
		if n := q.queues[stage].Len(); n > 0 {
			panic(fmt.Errorf("%w: %d left in %s", ErrResidualActions, n, stage))
		}
	}
}

// run executes one action through the middleware chain.
func (q *StagedQueue) run(pending pendingAction, stage Stage, inline bool) error {
	q.mu.Lock()
	if inline {
		q.stats.Inline++
	} else {
		q.stats.Drained++
	}
	middleware := q.middleware
	q.mu.Unlock()

	var handler ActionRunnerFunc = executeAction

	// Apply middleware in reverse order
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}

	return handler(q.project, Execution{
		Stage:  stage,
		Inline: inline,
		Seq:    pending.seq,
		Action: pending.action,
	})
}

func executeAction(p *Project, exec Execution) error {
	return exec.Action(p)
}

// LatestCompleted returns the latest fully drained stage. ok is false until
// the first stage completes.
func (q *StagedQueue) LatestCompleted() (stage Stage, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest, q.completed
}

// Draining reports whether the queue is currently draining.
func (q *StagedQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Pending returns the number of actions queued for stage.
func (q *StagedQueue) Pending(stage Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue, ok := q.queues[stage]
	if !ok {
		return 0
	}
	return queue.Len()
}

// Stats returns a snapshot of the queue's counters.
func (q *StagedQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := q.stats
	stats.Pending = make(map[string]int, len(stages))
	for _, s := range stages {
		stats.Pending[s.String()] = q.queues[s].Len()
	}
	if q.completed {
		stats.LatestCompleted = q.latest.String()
	}
	return stats
}
