package stagequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects ordered labels from actions
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

func (r *recorder) action(label string) Action {
	return func(p *Project) error {
		r.add(label)
		return nil
	}
}

func TestQueueForReturnsSameInstance(t *testing.T) {
	project := NewProject("app")

	first := QueueFor(project)
	second := QueueFor(project)

	assert.Same(t, first, second)
	assert.Same(t, project, first.Owner())

	// The queue lives in the project's extension container
	names := project.Extensions().FindByTag(TagSystem)
	assert.Equal(t, []string{ExtensionQueue}, names)
}

func TestQueueForDifferentProjects(t *testing.T) {
	a := NewProject("a")
	b := NewProject("b")

	assert.NotSame(t, QueueFor(a), QueueFor(b))
}

func TestQueueForPanicsOnForeignExtension(t *testing.T) {
	project := NewProject("app")
	require.NoError(t, project.Extensions().Add(ExtensionQueue, "not a queue"))

	assert.Panics(t, func() {
		QueueFor(project)
	})
}

func TestPostProcessingRunsAfterAfterEvaluation(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	var postProcessingCalled, afterEvaluationCalled atomic.Bool

	// Scheduled first, but for the later stage
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
		assert.False(t, postProcessingCalled.Swap(true), "Expected only one invocation (PostProcessing)")
		assert.True(t, afterEvaluationCalled.Load(), "Expected AfterEvaluation to be called already")
		return nil
	}))

	require.NoError(t, queue.ScheduleAt(AfterEvaluation, func(p *Project) error {
		assert.False(t, afterEvaluationCalled.Swap(true), "Expected only one invocation (AfterEvaluation)")
		assert.False(t, postProcessingCalled.Load(), "Expected PostProcessing to not be called already")
		return nil
	}))

	// Nothing runs before evaluation
	assert.False(t, afterEvaluationCalled.Load())
	assert.Equal(t, 1, queue.Pending(AfterEvaluation))
	assert.Equal(t, 1, queue.Pending(PostProcessing))
	_, ok := queue.LatestCompleted()
	assert.False(t, ok)

	require.NoError(t, project.Evaluate(context.Background()))

	assert.True(t, afterEvaluationCalled.Load(), "Expected AfterEvaluation to be called")
	assert.True(t, postProcessingCalled.Load(), "Expected PostProcessing to be called")

	latest, ok := queue.LatestCompleted()
	assert.True(t, ok)
	assert.Equal(t, PostProcessing, latest)
	assert.Equal(t, 0, queue.Pending(AfterEvaluation))
	assert.Equal(t, 0, queue.Pending(PostProcessing))
}

func TestQueueCreatedAfterEvaluation(t *testing.T) {
	project := NewProject("app")

	var afterEvaluateCalled atomic.Int32
	require.NoError(t, project.AfterEvaluate(func(p *Project) error {
		afterEvaluateCalled.Add(1)
		return nil
	}))
	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, int32(1), afterEvaluateCalled.Load())

	// The queue did not exist during evaluation
	queue := QueueFor(project)
	latest, ok := queue.LatestCompleted()
	assert.True(t, ok)
	assert.Equal(t, LastStage(), latest)

	var calls atomic.Int32
	require.NoError(t, queue.Schedule(func(p *Project) error {
		calls.Add(1)
		return nil
	}))
	assert.Equal(t, int32(1), calls.Load(), "Expected the action to run inline")
}

func TestQueueExecutesInlineAfterEvaluation(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	require.NoError(t, project.Evaluate(context.Background()))

	for _, stage := range Stages() {
		var executed atomic.Int32
		require.NoError(t, queue.ScheduleAt(stage, func(p *Project) error {
			executed.Add(1)
			return nil
		}))
		assert.Equal(t, int32(1), executed.Load(), "Expected immediate execution (%s)", stage)
		assert.Equal(t, 0, queue.Pending(stage))
	}
}

func TestScheduleAfterEvaluationDuringAfterEvaluation(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	var outerFinished, innerFinished atomic.Int32
	require.NoError(t, queue.ScheduleAt(AfterEvaluation, func(p *Project) error {
		require.NoError(t, queue.ScheduleAt(AfterEvaluation, func(p *Project) error {
			innerFinished.Add(1)
			return nil
		}))
		outerFinished.Add(1)
		assert.Equal(t, int32(0), innerFinished.Load(), "Expected inner block to be put at the end of the queue")

		// Still draining the same stage
		_, ok := queue.LatestCompleted()
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, int32(1), outerFinished.Load())
	assert.Equal(t, int32(1), innerFinished.Load())
}

func TestScheduleAfterEvaluationDuringPostProcessing(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	rec := &recorder{}

	// X at PostProcessing schedules Y at AfterEvaluation, which already completed
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
		rec.add("X start")
		err := queue.ScheduleAt(AfterEvaluation, rec.action("Y"))
		rec.add("X end")
		return err
	}))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, []string{"X start", "Y", "X end"}, rec.list())

	stats := queue.Stats()
	assert.Equal(t, 2, stats.Scheduled)
	assert.Equal(t, 1, stats.Inline)
	assert.Equal(t, 1, stats.Drained)
}

func TestSchedulePostProcessingDuringAfterEvaluation(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	rec := &recorder{}

	require.NoError(t, queue.ScheduleAt(AfterEvaluation, func(p *Project) error {
		rec.add("outer")
		require.NoError(t, queue.ScheduleAt(PostProcessing, rec.action("inner")))
		assert.Equal(t, 1, queue.Pending(PostProcessing), "Expected inner block to be queued for PostProcessing")
		return nil
	}))
	require.NoError(t, queue.ScheduleAt(AfterEvaluation, rec.action("sibling")))

	require.NoError(t, project.Evaluate(context.Background()))

	// inner waits for the whole AfterEvaluation stage
	assert.Equal(t, []string{"outer", "sibling", "inner"}, rec.list())
}

func TestSchedulePostProcessingDuringPostProcessing(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	var outerFinished, innerFinished atomic.Int32
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
		require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
			innerFinished.Add(1)
			return nil
		}))
		outerFinished.Add(1)
		assert.Equal(t, int32(0), innerFinished.Load(), "Expected inner block to be put at the end of the queue")
		return nil
	}))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, int32(1), outerFinished.Load())
	assert.Equal(t, int32(1), innerFinished.Load())
}

func TestSameStageInsertionRunsBeforeNextStage(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	rec := &recorder{}

	require.NoError(t, queue.ScheduleAt(PostProcessing, rec.action("post")))
	require.NoError(t, queue.Schedule(func(p *Project) error {
		rec.add("a1")
		return queue.Schedule(func(p *Project) error {
			rec.add("a2")
			return queue.Schedule(rec.action("a3"))
		})
	}))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, []string{"a1", "a2", "a3", "post"}, rec.list())
}

func TestStageOrderingIsFIFOWithinStage(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	rec := &recorder{}

	var expected []string
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.ScheduleAt(PostProcessing, rec.action(fmt.Sprintf("post-%d", i))))
		require.NoError(t, queue.ScheduleAt(AfterEvaluation, rec.action(fmt.Sprintf("after-%d", i))))
	}
	for i := 0; i < 5; i++ {
		expected = append(expected, fmt.Sprintf("after-%d", i))
	}
	for i := 0; i < 5; i++ {
		expected = append(expected, fmt.Sprintf("post-%d", i))
	}

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, expected, rec.list())
}

func TestExactlyOnceAcrossNesting(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	counts := make(map[string]int)
	var mu sync.Mutex
	count := func(label string) Action {
		return func(p *Project) error {
			mu.Lock()
			counts[label]++
			mu.Unlock()
			return nil
		}
	}

	// One action per scheduling moment: before drain, during each stage
	// targeting each stage, and after drain
	require.NoError(t, queue.Schedule(count("before/after")))
	require.NoError(t, queue.ScheduleAt(PostProcessing, count("before/post")))
	require.NoError(t, queue.Schedule(func(p *Project) error {
		count("during-after")(p)
		require.NoError(t, queue.ScheduleAt(AfterEvaluation, count("during-after/after")))
		require.NoError(t, queue.ScheduleAt(PostProcessing, count("during-after/post")))
		return nil
	}))
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
		count("during-post")(p)
		require.NoError(t, queue.ScheduleAt(AfterEvaluation, count("during-post/after")))
		require.NoError(t, queue.ScheduleAt(PostProcessing, count("during-post/post")))
		return nil
	}))

	require.NoError(t, project.Evaluate(context.Background()))

	require.NoError(t, queue.ScheduleAt(AfterEvaluation, count("later/after")))
	require.NoError(t, queue.ScheduleAt(PostProcessing, count("later/post")))

	expected := []string{
		"before/after", "before/post",
		"during-after", "during-after/after", "during-after/post",
		"during-post", "during-post/after", "during-post/post",
		"later/after", "later/post",
	}
	assert.Len(t, counts, len(expected))
	for _, label := range expected {
		assert.Equal(t, 1, counts[label], label)
	}
}

func TestDrainFailurePropagates(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	boom := errors.New("boom")

	var afterFailure atomic.Bool
	require.NoError(t, queue.Schedule(func(p *Project) error { return boom }))
	require.NoError(t, queue.Schedule(func(p *Project) error {
		afterFailure.Store(true)
		return nil
	}))

	err := project.Evaluate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "AfterEvaluation action #1 failed")

	// Remaining work is abandoned, not retried
	assert.False(t, afterFailure.Load())
	assert.Equal(t, 1, queue.Pending(AfterEvaluation))
	assert.True(t, project.Executed())
}

func TestScheduleAfterFailedConfigurationIsRejected(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	broken := errors.New("broken build script")
	require.NoError(t, project.Configure(func(p *Project) error { return broken }))

	// Accepted before evaluation, never drained
	require.NoError(t, queue.Schedule(func(p *Project) error { return nil }))

	assert.ErrorIs(t, project.Evaluate(context.Background()), broken)
	assert.True(t, project.Executed())

	_, completed := queue.LatestCompleted()
	assert.False(t, completed)

	// Nothing will ever drain, so scheduling fails instead of queueing
	var ran atomic.Bool
	for _, stage := range Stages() {
		err := queue.ScheduleAt(stage, func(p *Project) error {
			ran.Store(true)
			return nil
		})
		assert.ErrorIs(t, err, ErrQueueAborted)
	}
	assert.False(t, ran.Load())
	assert.Equal(t, 1, queue.Pending(AfterEvaluation))
	assert.Equal(t, 0, queue.Pending(PostProcessing))
	assert.Equal(t, 1, queue.Stats().Scheduled)
}

func TestScheduleAfterAbortedDrain(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	boom := errors.New("boom")

	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error { return boom }))
	assert.ErrorIs(t, project.Evaluate(context.Background()), boom)

	latest, completed := queue.LatestCompleted()
	require.True(t, completed)
	assert.Equal(t, AfterEvaluation, latest)

	// The drained stage still runs inline
	var inline atomic.Bool
	require.NoError(t, queue.Schedule(func(p *Project) error {
		inline.Store(true)
		return nil
	}))
	assert.True(t, inline.Load())

	// The stage the drain never finished is closed
	err := queue.ScheduleAt(PostProcessing, func(p *Project) error { return nil })
	assert.ErrorIs(t, err, ErrQueueAborted)
	assert.Equal(t, 0, queue.Pending(PostProcessing))
}

func TestScheduleAfterFailedListenerBeforeDrain(t *testing.T) {
	project := NewProject("app")
	broken := errors.New("listener failed")
	require.NoError(t, project.AfterEvaluate(func(p *Project) error { return broken }))

	// The drain listener is registered after the failing one
	queue := QueueFor(project)
	assert.ErrorIs(t, project.Evaluate(context.Background()), broken)

	err := queue.Schedule(func(p *Project) error { return nil })
	assert.ErrorIs(t, err, ErrQueueAborted)
}

func TestInlineFailureReturnsToCaller(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	require.NoError(t, project.Evaluate(context.Background()))

	boom := errors.New("boom")
	err := queue.ScheduleAt(PostProcessing, func(p *Project) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestActionPanicPropagates(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)
	require.NoError(t, queue.Schedule(func(p *Project) error {
		panic("action exploded")
	}))

	assert.PanicsWithValue(t, "action exploded", func() {
		_ = project.Evaluate(context.Background())
	})
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	queue := QueueFor(NewProject("app"))

	err := queue.ScheduleAt(Stage(42), func(p *Project) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, 0, queue.Stats().Scheduled)

	assert.PanicsWithValue(t, ErrNilAction, func() {
		_ = queue.Schedule(nil)
	})
}

func TestActionReceivesOwner(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	var got *Project
	require.NoError(t, queue.Schedule(func(p *Project) error {
		got = p
		return nil
	}))
	require.NoError(t, project.Evaluate(context.Background()))
	assert.Same(t, project, got)
}

func TestDrainHappensOnceWithDeferringPlugin(t *testing.T) {
	project := NewProject("android-app")
	project.Plugins().Register("com.android.application", func(p *Project) error {
		// The plugin's own post-evaluation work
		return p.AfterEvaluate(func(p *Project) error {
			return p.Extensions().Add("android", "configured")
		})
	})

	queue := QueueFor(project)
	rec := &recorder{}

	require.NoError(t, queue.Schedule(func(p *Project) error {
		// The plugin listener must have run before the queue drains
		_, ok := p.Extensions().FindByName("android")
		assert.True(t, ok, "Expected the android plugin listener to run first")
		rec.add("queued")
		return nil
	}))

	// Applied during configuration, after the queue hooked evaluation
	require.NoError(t, project.Configure(func(p *Project) error {
		return p.Plugins().Apply("com.android.application")
	}))

	var drains atomic.Int32
	queue.Use(func(next ActionRunnerFunc) ActionRunnerFunc {
		return func(p *Project, exec Execution) error {
			if !exec.Inline {
				drains.Add(1)
			}
			return next(p, exec)
		}
	})

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, []string{"queued"}, rec.list())
	assert.Equal(t, int32(1), drains.Load())
}

func TestDeferringPluginAppliedBeforeQueueCreation(t *testing.T) {
	project := NewProject("lib")
	project.Plugins().Register("custom.plugin", nil)
	require.NoError(t, project.Plugins().Apply("custom.plugin"))

	queue := QueueFor(project, WithDeferringPlugins("custom.plugin"))
	rec := &recorder{}

	// The plugin was already applied, so the drain listener was registered
	// right away and runs before this one
	require.NoError(t, project.AfterEvaluate(func(p *Project) error {
		rec.add("listener")
		return nil
	}))
	require.NoError(t, queue.Schedule(rec.action("queued")))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, []string{"queued", "listener"}, rec.list())
}

func TestQueueCreatedDuringAfterEvaluate(t *testing.T) {
	project := NewProject("app")
	rec := &recorder{}

	require.NoError(t, project.AfterEvaluate(func(p *Project) error {
		// Not evaluated yet: the queue hooks evaluation and drains later
		return QueueFor(p).ScheduleAt(PostProcessing, rec.action("late"))
	}))

	require.NoError(t, project.Evaluate(context.Background()))
	assert.Equal(t, []string{"late"}, rec.list())
}

func TestMiddlewareOrderAndExecutionInfo(t *testing.T) {
	project := NewProject("app")
	rec := &recorder{}

	tag := func(name string) ActionMiddleware {
		return func(next ActionRunnerFunc) ActionRunnerFunc {
			return func(p *Project, exec Execution) error {
				rec.add(fmt.Sprintf("%s>%s#%d inline=%t", name, exec.Stage, exec.Seq, exec.Inline))
				err := next(p, exec)
				rec.add(name + "<")
				return err
			}
		}
	}

	queue := QueueFor(project, WithMiddleware(tag("outer"), tag("inner")))
	require.NoError(t, queue.Schedule(rec.action("action")))
	require.NoError(t, project.Evaluate(context.Background()))
	require.NoError(t, queue.ScheduleAt(PostProcessing, rec.action("late")))

	assert.Equal(t, []string{
		"outer>AfterEvaluation#1 inline=false",
		"inner>AfterEvaluation#1 inline=false",
		"action",
		"inner<",
		"outer<",
		"outer>PostProcessing#2 inline=true",
		"inner>PostProcessing#2 inline=true",
		"late",
		"inner<",
		"outer<",
	}, rec.list())
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	project := NewProject("app")
	denied := errors.New("denied")
	queue := QueueFor(project, WithMiddleware(func(next ActionRunnerFunc) ActionRunnerFunc {
		return func(p *Project, exec Execution) error {
			return denied
		}
	}))

	var ran atomic.Bool
	require.NoError(t, queue.Schedule(func(p *Project) error {
		ran.Store(true)
		return nil
	}))

	assert.ErrorIs(t, project.Evaluate(context.Background()), denied)
	assert.False(t, ran.Load())
}

type observerSpy struct {
	mu        sync.Mutex
	scheduled []string
	completed []string
}

func (o *observerSpy) ActionScheduled(p *Project, stage Stage, d Disposition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scheduled = append(o.scheduled, fmt.Sprintf("%s:%s", stage, d))
}

func (o *observerSpy) StageCompleted(p *Project, stage Stage, executed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, fmt.Sprintf("%s:%d", stage, executed))
}

func TestObserverNotifications(t *testing.T) {
	project := NewProject("app")
	spy := &observerSpy{}
	queue := QueueFor(project, WithObserver(spy))

	require.NoError(t, queue.Schedule(func(p *Project) error {
		return queue.Schedule(func(p *Project) error { return nil })
	}))
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error {
		return queue.Schedule(func(p *Project) error { return nil })
	}))
	require.NoError(t, project.Evaluate(context.Background()))

	assert.Equal(t, []string{
		"AfterEvaluation:queued",
		"PostProcessing:queued",
		"AfterEvaluation:queued",
		"AfterEvaluation:inline",
	}, spy.scheduled)
	assert.Equal(t, []string{"AfterEvaluation:2", "PostProcessing:1"}, spy.completed)
}

func TestConcurrentSchedulingDuringEvaluation(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	const workers = 8
	const perWorker = 50

	var executed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; i < perWorker; i++ {
				stage := Stages()[(w+i)%len(Stages())]
				err := queue.ScheduleAt(stage, func(p *Project) error {
					executed.Add(1)
					return nil
				})
				assert.NoError(t, err)
			}
		}(w)
	}

	close(start)
	require.NoError(t, project.Evaluate(context.Background()))
	wg.Wait()

	// Every action either drained or ran inline
	assert.Equal(t, int64(workers*perWorker), executed.Load())
	assert.Equal(t, 0, queue.Pending(AfterEvaluation))
	assert.Equal(t, 0, queue.Pending(PostProcessing))
}

func TestStatsSnapshot(t *testing.T) {
	project := NewProject("app")
	queue := QueueFor(project)

	require.NoError(t, queue.Schedule(func(p *Project) error { return nil }))
	require.NoError(t, queue.ScheduleAt(PostProcessing, func(p *Project) error { return nil }))

	stats := queue.Stats()
	assert.Equal(t, 2, stats.Scheduled)
	assert.Equal(t, map[string]int{"AfterEvaluation": 1, "PostProcessing": 1}, stats.Pending)
	assert.Empty(t, stats.LatestCompleted)

	require.NoError(t, project.Evaluate(context.Background()))

	stats = queue.Stats()
	assert.Equal(t, 2, stats.Drained)
	assert.Equal(t, 0, stats.Inline)
	assert.Equal(t, "PostProcessing", stats.LatestCompleted)
	assert.False(t, queue.Draining())
}
