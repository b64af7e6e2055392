package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"uigen/internal/project"
)

type stubAgent struct {
	agentProfile
	accept  bool
	produce func(ctx context.Context, in AgentInput) (Output, error)
}

func (s *stubAgent) CanHandle(AgentInput) bool { return s.accept }

func (s *stubAgent) Produce(ctx context.Context, in AgentInput) (Output, error) {
	return s.produce(ctx, in)
}

func stub(kind AgentKind, priority int, accept bool, produce func(context.Context, AgentInput) (Output, error)) *stubAgent {
	return &stubAgent{
		agentProfile: agentProfile{id: string(kind) + "-agent", kind: kind, name: string(kind), priority: priority, maxContextTokens: 1000},
		accept:       accept,
		produce:      produce,
	}
}

func replyWith(content string) func(context.Context, AgentInput) (Output, error) {
	return func(context.Context, AgentInput) (Output, error) {
		return Output{Content: content, Meta: OutputMeta{TokensUsed: EstimateTokens(content)}}, nil
	}
}

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(defaultAgents(t), NewResultCache(CacheOptions{}), opts...)
	require.NoError(t, err)
	return d
}

type recorder struct {
	mu     sync.Mutex
	events []Progress
}

func (r *recorder) record(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func agentIDs(plan ExecutionPlan) []string {
	out := make([]string, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		out = append(out, t.AgentID)
	}
	return out
}

func TestDispatcherRequiresGeneralAgent(t *testing.T) {
	agents, err := NewAgentRegistry(stub(KindUI, 8, true, replyWith("x")))
	require.NoError(t, err)
	_, err = NewDispatcher(agents, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAgent))
}

func TestNavbarScenario(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{UserRequest: "create a navbar"}

	plan, err := d.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"ui-agent", "general-agent"}, agentIDs(plan))
	require.Len(t, plan.Groups, 1)
	assert.Len(t, plan.Groups[0], 2)
	assert.Equal(t, 2*EstimateTokens("create a navbar"), plan.EstimatedTokens)
	assert.Equal(t, "task-1", plan.Tasks[0].ID)

	resp, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Code, "<nav")
	assert.GreaterOrEqual(t, resp.Meta.TasksExecuted, 1)
	assert.True(t, strings.HasPrefix(resp.Content, "### Result 1\n"))
	assert.Contains(t, resp.Content, "### Result 2\n")
	assert.Zero(t, resp.Meta.FailedTasks)
	assert.NotEmpty(t, resp.RequestID)
	for _, task := range resp.Tasks {
		assert.Equal(t, TaskCompleted, task.Status)
		require.NotNil(t, task.Output)
	}
}

func TestAnalyzeWithCodeAttachmentPlansOneAnalysisTask(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{
		UserRequest: "analyze this",
		Attachments: []Attachment{{ID: "1", Name: "Button.tsx", Kind: AttachmentCode, Content: "export const B = 1"}},
	}
	plan, err := d.Plan(req)
	require.NoError(t, err)

	analysisTasks := 0
	for _, task := range plan.Tasks {
		if task.AgentID == "analysis-agent" {
			analysisTasks++
		}
	}
	assert.Equal(t, 1, analysisTasks)
	assert.Equal(t, "analysis-agent", plan.Tasks[len(plan.Tasks)-1].AgentID, "analysis goes last when attachments exist")

	resp, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	var analysisOut *Output
	for _, task := range resp.Tasks {
		if task.AgentID == "analysis-agent" {
			analysisOut = task.Output
		}
	}
	require.NotNil(t, analysisOut)
	assert.Contains(t, analysisOut.Content, "Button.tsx")
}

func TestEmptyRequestFallsBackToGeneral(t *testing.T) {
	d := newTestDispatcher(t)
	plan, err := d.Plan(Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"general-agent"}, agentIDs(plan))

	resp, err := d.Execute(context.Background(), Request{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.NotEqual(t, "No results", resp.Content)
	assert.Equal(t, 1, resp.Meta.TasksExecuted)
}

func TestGeneralFallbackWhenNobodyAccepts(t *testing.T) {
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, false, replyWith("ui")),
		stub(KindGeneral, 4, false, replyWith("fallback")),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	plan, err := d.Plan(Request{UserRequest: "anything"})
	require.NoError(t, err)
	assert.Equal(t, []string{"general-agent"}, agentIDs(plan))
}

func TestExecuteIsIdempotentThroughCache(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{UserRequest: "create a navbar"}

	first, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Zero(t, first.Meta.CachedResults)

	second, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, second.Meta.TasksExecuted, second.Meta.CachedResults)
	for _, task := range second.Tasks {
		require.NotNil(t, task.Output)
		assert.True(t, task.Output.Meta.Cached)
		assert.Zero(t, task.Output.Meta.Duration)
	}
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Meta.TotalTokensUsed, second.Meta.TotalTokensUsed)
	assert.Equal(t, uint64(2), d.CacheStats().Hits)

	d.ClearCache()
	third, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Zero(t, third.Meta.CachedResults)
}

func TestProgressOrder(t *testing.T) {
	d := newTestDispatcher(t)
	rec := &recorder{}
	_, err := d.Execute(context.Background(), Request{UserRequest: "create a navbar"}, rec.record)
	require.NoError(t, err)

	assert.Equal(t, []Status{
		StatusPlanning,
		StatusExecuting,
		StatusExecuting,
		StatusExecuting,
		StatusAggregating,
		StatusCompleted,
	}, rec.statuses())

	ev := rec.events
	assert.Zero(t, ev[0].TotalTasks)
	require.Len(t, ev[2].RunningTasks, 2)
	assert.Equal(t, TaskRunning, ev[2].RunningTasks[0].Status)
	assert.Empty(t, ev[3].RunningTasks)
	assert.Equal(t, 2, ev[3].CompletedTasks)
	assert.Equal(t, 2, ev[5].CompletedTasks)

	prev := 0
	for _, e := range ev {
		assert.GreaterOrEqual(t, e.CompletedTasks, prev)
		prev = e.CompletedTasks
		assert.Equal(t, ev[0].RequestID, e.RequestID)
	}
}

func TestRouteProducesMultiGroupPlan(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{UserRequest: "create a navbar", Route: "ui+general>analysis"}

	plan, err := d.Plan(req)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"task-1", "task-2"}, {"task-3"}}, groupIDs(plan.Groups))
	assert.Equal(t, []string{"task-1", "task-2"}, plan.Tasks[2].Dependencies)

	rec := &recorder{}
	resp, err := d.Execute(context.Background(), req, rec.record)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Meta.TasksExecuted)
	assert.Equal(t, []Status{
		StatusPlanning,
		StatusExecuting,
		StatusExecuting, StatusExecuting,
		StatusExecuting, StatusExecuting,
		StatusAggregating,
		StatusCompleted,
	}, rec.statuses())
	assert.Equal(t, 2, rec.events[3].CompletedTasks)
	require.Len(t, rec.events[4].RunningTasks, 1)
	assert.Equal(t, "analysis-agent", rec.events[4].RunningTasks[0].AgentID)
	assert.Equal(t, 3, rec.events[5].CompletedTasks)
	assert.Equal(t, []string{"ui-agent", "general-agent", "analysis-agent"}, []string{resp.Tasks[0].AgentID, resp.Tasks[1].AgentID, resp.Tasks[2].AgentID})
}

func TestRouteErrors(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Plan(Request{Route: "ui>designer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAgent))

	_, err = d.Plan(Request{Route: "ui>ui-agent"})
	require.Error(t, err)

	rec := &recorder{}
	_, err = d.Execute(context.Background(), Request{Route: "ui>>general"}, rec.record)
	require.Error(t, err)
	assert.Equal(t, []Status{StatusPlanning, StatusFailed}, rec.statuses())
}

func TestFailingTaskIsIsolated(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, true, func(context.Context, AgentInput) (Output, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return Output{}, errors.New("renderer offline")
		}),
		stub(KindAnalysis, 6, true, func(context.Context, AgentInput) (Output, error) {
			panic("boom")
		}),
		stub(KindGeneral, 4, true, replyWith("still here")),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	resp, err := d.Execute(context.Background(), Request{UserRequest: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Meta.TasksExecuted)
	assert.Equal(t, 2, resp.Meta.FailedTasks)
	assert.Equal(t, TaskFailed, resp.Tasks[0].Status)
	assert.Contains(t, resp.Tasks[0].Error, "renderer offline")
	assert.Equal(t, TaskFailed, resp.Tasks[1].Status)
	assert.Contains(t, resp.Tasks[1].Error, "panicked")
	assert.Equal(t, TaskCompleted, resp.Tasks[2].Status)
	assert.Contains(t, resp.Content, "still here")

	// failures are not cached, successes are
	assert.Equal(t, 1, d.CacheStats().Size)
	_, err = d.Execute(context.Background(), Request{UserRequest: "hi"}, nil)
	require.NoError(t, err)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestMissingAgentYieldsPlaceholder(t *testing.T) {
	d := newTestDispatcher(t)
	plan, err := d.Plan(Request{UserRequest: "create a navbar"})
	require.NoError(t, err)
	plan.Tasks[0].AgentID = "ghost-agent"

	completed, err := d.executePlan(context.Background(), plan, zap.NewNop(), func(int, []TaskSnapshot) {})
	require.NoError(t, err)
	require.Len(t, completed, 2)
	resp := aggregate(completed)
	assert.Contains(t, resp.Content, "Agent ghost-agent not found")
	assert.Zero(t, resp.Meta.FailedTasks)
	assert.Equal(t, TaskCompleted, resp.Tasks[0].Status)
	assert.Zero(t, resp.Tasks[0].Output.Meta.TokensUsed)
}

func TestCancellationEmitsFailed(t *testing.T) {
	started := make(chan struct{})
	agents, err := NewAgentRegistry(
		stub(KindGeneral, 4, true, func(ctx context.Context, _ AgentInput) (Output, error) {
			close(started)
			<-ctx.Done()
			return Output{}, ctx.Err()
		}),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	rec := &recorder{}
	_, err = d.Execute(ctx, Request{UserRequest: "wait"}, rec.record)
	require.ErrorIs(t, err, context.Canceled)

	statuses := rec.statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusFailed, statuses[len(statuses)-1])
	assert.Zero(t, d.CacheStats().Size)
}

func TestStageDelayHonorsDeadline(t *testing.T) {
	d := newTestDispatcher(t, WithStageDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	_, err := d.Execute(ctx, Request{UserRequest: "create a navbar"}, rec.record)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []Status{StatusPlanning, StatusFailed}, rec.statuses())
}

func TestMaxParallelBoundsGroup(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	slow := func(context.Context, AgentInput) (Output, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return Output{Content: "ok"}, nil
	}
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, true, slow),
		stub(KindAnalysis, 6, true, slow),
		stub(KindGeneral, 4, true, slow),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil, WithMaxParallel(1))
	require.NoError(t, err)

	resp, err := d.Execute(context.Background(), Request{UserRequest: "go"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Meta.TasksExecuted)
	assert.Equal(t, 1, peak)
}

func TestConcurrentIdenticalRequestsProduceOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, false, replyWith("unused")),
		stub(KindAnalysis, 6, false, replyWith("unused")),
		stub(KindGeneral, 4, true, func(context.Context, AgentInput) (Output, error) {
			calls.Add(1)
			<-release
			return Output{Content: "shared answer"}, nil
		}),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	resps := make([]Response, 2)
	for i := range resps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Execute(context.Background(), Request{UserRequest: "same question"}, nil)
			assert.NoError(t, err)
			resps[i] = resp
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// the second request either joined the in-flight call or hit the cache
	assert.Equal(t, int32(1), calls.Load())
	for _, r := range resps {
		assert.Equal(t, "shared answer", r.Content)
	}
}

func TestCancelledRequestDoesNotFailSharedTask(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, false, replyWith("unused")),
		stub(KindAnalysis, 6, false, replyWith("unused")),
		stub(KindGeneral, 4, true, func(ctx context.Context, _ AgentInput) (Output, error) {
			calls.Add(1)
			select {
			case <-ctx.Done():
				return Output{}, ctx.Err()
			case <-release:
				return Output{Content: "fresh answer"}, nil
			}
		}),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	req := Request{UserRequest: "same question"}
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := d.Execute(ctxA, req, nil)
		errA <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		resp Response
		err  error
	}
	doneB := make(chan result, 1)
	go func() {
		resp, err := d.Execute(context.Background(), req, nil)
		doneB <- result{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	// B runs the agent again under its own context
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	b := <-doneB
	require.NoError(t, b.err)
	assert.Zero(t, b.resp.Meta.FailedTasks)
	require.Len(t, b.resp.Tasks, 1)
	assert.Equal(t, TaskCompleted, b.resp.Tasks[0].Status)
	assert.Equal(t, "fresh answer", b.resp.Content)
}

func TestAggregateKeepsFirstSnippetInPlanOrder(t *testing.T) {
	agents, err := NewAgentRegistry(
		stub(KindUI, 8, false, func(context.Context, AgentInput) (Output, error) {
			// finishes last, still first in plan order
			time.Sleep(10 * time.Millisecond)
			return Output{Content: "ui part", Code: "export function FromUI() {}"}, nil
		}),
		stub(KindAnalysis, 6, false, replyWith("unused")),
		stub(KindGeneral, 4, false, func(context.Context, AgentInput) (Output, error) {
			return Output{Content: "general part", Code: "export function FromGeneral() {}"}, nil
		}),
	)
	require.NoError(t, err)
	d, err := NewDispatcher(agents, nil)
	require.NoError(t, err)

	resp, err := d.Execute(context.Background(), Request{UserRequest: "two snippets", Route: "ui+general"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "export function FromUI() {}", resp.Code)
	assert.Equal(t, "### Result 1\nui part\n\n### Result 2\ngeneral part", resp.Content)
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, "ui-agent", resp.Tasks[0].AgentID)
	assert.Equal(t, "general-agent", resp.Tasks[1].AgentID)
}

func TestStreamDeliversEvents(t *testing.T) {
	d := newTestDispatcher(t)
	run := d.Stream(context.Background(), Request{UserRequest: "create a navbar"})

	var statuses []Status
	for p := range run.Events() {
		statuses = append(statuses, p.Status)
	}
	resp, err := run.Wait()
	require.NoError(t, err)
	assert.Contains(t, resp.Code, "<nav")
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusPlanning, statuses[0])
	assert.Equal(t, StatusCompleted, statuses[len(statuses)-1])
}

func TestStreamWaitWithoutReading(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.Stream(context.Background(), Request{UserRequest: "create a navbar"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Meta.TasksExecuted)
}

func TestPanickingProgressCallbackDoesNotBreakRequest(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := newTestDispatcher(t, WithLogger(zap.New(core)))
	resp, err := d.Execute(context.Background(), Request{UserRequest: "create a navbar"}, func(Progress) { panic("observer bug") })
	require.NoError(t, err)
	assert.Contains(t, resp.Code, "<nav")
	assert.Equal(t, 6, logs.FilterMessage("progress callback panicked").Len())
}

func TestMetricsRecordRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	d := newTestDispatcher(t, WithMetrics(m))

	req := Request{UserRequest: "create a navbar"}
	_, err := d.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("ui-agent", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRequests))

	again := MustNewMetrics(reg)
	assert.Same(t, m.requests, again.requests, "collectors are reused on re-registration")
}

func TestNewFromProject(t *testing.T) {
	root := project.DefaultRootConfig()
	root.Dispatcher.SimulateLatency = false
	root.Cache.MaxSize = 5
	d, err := New(&project.Project{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 5, d.CacheStats().MaxSize)
	assert.Equal(t, 4, d.maxParallel)

	resp, err := d.Execute(context.Background(), Request{UserRequest: "add a pricing section"}, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Code, "function Pricing")

	_, err = New(nil)
	assert.Error(t, err)
}
