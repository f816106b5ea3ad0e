// Package stagequeue provides a staged, reentrant deferred-action queue for
// long-lived project objects.
//
// Subsystems that configure a project often need to run code "after the
// project has been evaluated", and some of that code must itself run after
// other after-evaluation code. stagequeue lets them register callbacks at one
// of a small, fixed set of ordered stages and guarantees every callback runs
// exactly once, in stage order, even when callbacks register more callbacks.
//
// Core components include:
//   - Project: the owner whose evaluation completion triggers the queue
//   - StagedQueue: per-stage FIFO queues drained once evaluation completes
//   - Stage: the closed, totally ordered set of lifecycle stages
//   - Extensions: a per-project container holding auxiliary state, including
//     the memoized queue itself
//
// Scheduling rules:
//
// Before the project finishes evaluating, ScheduleAt appends the action to its
// stage's queue. Once evaluation completes the queue drains every stage in
// order, re-polling the current stage after each action so that actions added
// while the stage is draining still run before the next stage starts. An action
// scheduled for a stage that has already been drained runs inline, before
// ScheduleAt returns.
//
//	q := stagequeue.QueueFor(project)
//	q.ScheduleAt(stagequeue.PostProcessing, func(p *stagequeue.Project) error {
//		return q.Schedule(func(p *stagequeue.Project) error {
//			// AfterEvaluation already completed: runs inline right here
//			return nil
//		})
//	})
//	err := project.Evaluate(ctx)
package stagequeue
