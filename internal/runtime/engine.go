package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"uigen/internal/project"
)

const tracerName = "uigen/internal/runtime"

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithStageDelay pauses between the planning, executing and aggregating stages.
func WithStageDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.stageDelay = delay }
}

// WithMaxParallel bounds concurrent tasks inside one group; n <= 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(d *Dispatcher) { d.maxParallel = n }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// Dispatcher turns a request into a plan of agent tasks, runs the plan group
// by group and merges the outputs into one response.
type Dispatcher struct {
	agents      *AgentRegistry
	reducer     ContextReducer
	cache       *ResultCache
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	stageDelay  time.Duration
	maxParallel int
	now         func() time.Time
	newID       func() string
	flight      singleflight.Group
}

func NewDispatcher(agents *AgentRegistry, cache *ResultCache, opts ...Option) (*Dispatcher, error) {
	if agents == nil {
		return nil, fmt.Errorf("agent registry is nil")
	}
	if _, err := agents.Get(KindGeneral); err != nil {
		return nil, fmt.Errorf("dispatcher needs a general fallback agent: %w", err)
	}
	if cache == nil {
		cache = NewResultCache(CacheOptions{})
	}
	d := &Dispatcher{
		agents: agents,
		cache:  cache,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// New wires the default capabilities, agents and cache for a loaded workspace.
func New(p *project.Project, opts ...Option) (*Dispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("project is nil")
	}
	simulate := p.Root.Dispatcher.SimulateLatency
	caps, err := NewDefaultCapabilities(p.Capabilities, CapabilityOptions{SimulateLatency: simulate})
	if err != nil {
		return nil, err
	}
	agents, err := NewDefaultAgents(caps, AgentOptions{SimulateLatency: simulate})
	if err != nil {
		return nil, err
	}
	cache := NewResultCache(CacheOptions{
		MaxSize: p.Root.Cache.MaxSize,
		MaxAge:  p.Root.Cache.MaxAge(),
	})
	base := []Option{
		WithStageDelay(p.Root.Dispatcher.StageDelay()),
		WithMaxParallel(p.Root.Dispatcher.MaxParallel),
	}
	return NewDispatcher(agents, cache, append(base, opts...)...)
}

func (d *Dispatcher) Agents() *AgentRegistry { return d.agents }

func (d *Dispatcher) CacheStats() CacheStats { return d.cache.Stats() }

func (d *Dispatcher) ClearCache() { d.cache.Clear() }

// Plan builds the execution plan for req without running it.
func (d *Dispatcher) Plan(req Request) (ExecutionPlan, error) {
	var (
		tasks []*Task
		err   error
	)
	if strings.TrimSpace(req.Route) != "" {
		tasks, err = d.planRoute(req)
	} else {
		tasks = d.planDefault(req)
	}
	if err != nil {
		return ExecutionPlan{}, err
	}

	q := NewTaskQueue()
	q.EnqueueAll(tasks)
	plan := ExecutionPlan{
		Tasks:  tasks,
		Groups: q.ParallelGroups(),
		Route:  strings.TrimSpace(req.Route),
		queue:  q,
	}
	for _, t := range tasks {
		plan.EstimatedTokens += EstimateTokens(t.Input.UserRequest)
	}
	return plan, nil
}

func (d *Dispatcher) planDefault(req Request) []*Task {
	probe := AgentInput{UserRequest: req.UserRequest, Attachments: req.Attachments}
	hasAttachments := len(req.Attachments) > 0

	capable := []Agent{}
	for _, a := range d.agents.SortedByPriority() {
		if a.CanHandle(probe) {
			capable = append(capable, a)
		}
	}
	if len(capable) == 0 {
		general, _ := d.agents.Get(KindGeneral)
		capable = append(capable, general)
	}

	tasks := make([]*Task, 0, len(capable)+1)
	for _, a := range capable {
		// with attachments the analysis agent is appended last, exactly once
		if hasAttachments && a.Kind() == KindAnalysis {
			continue
		}
		tasks = append(tasks, d.newTask(len(tasks)+1, a, req))
	}
	if hasAttachments {
		if analysis, err := d.agents.Get(KindAnalysis); err == nil {
			tasks = append(tasks, d.newTask(len(tasks)+1, analysis, req))
		}
	}
	return tasks
}

func (d *Dispatcher) planRoute(req Request) ([]*Task, error) {
	route, err := ParseRoute(req.Route)
	if err != nil {
		return nil, err
	}
	tasks := []*Task{}
	used := map[string]string{}
	var prev []string
	for _, stage := range route.Stages {
		ids := make([]string, 0, len(stage))
		for _, name := range stage {
			a, ok := d.agents.Resolve(name)
			if !ok {
				return nil, fmt.Errorf("route %q: %w: %s", route.Raw, ErrUnknownAgent, name)
			}
			if first, dup := used[a.ID()]; dup {
				return nil, fmt.Errorf("route %q: %q and %q name the same agent", route.Raw, first, name)
			}
			used[a.ID()] = name
			t := d.newTask(len(tasks)+1, a, req)
			t.Dependencies = append(t.Dependencies, prev...)
			tasks = append(tasks, t)
			ids = append(ids, t.ID)
		}
		prev = ids
	}
	return tasks, nil
}

func (d *Dispatcher) newTask(n int, a Agent, req Request) *Task {
	return &Task{
		ID:      fmt.Sprintf("task-%d", n),
		AgentID: a.ID(),
		Input: AgentInput{
			UserRequest:     req.UserRequest,
			RelevantHistory: d.reducer.Reduce(req.History, a.Kind(), a.MaxContextTokens()),
			Attachments:     req.Attachments,
		},
		Status:       TaskPending,
		Priority:     a.Priority(),
		Dependencies: []string{},
		CreatedAt:    d.now(),
	}
}

// Execute plans, runs and aggregates req. onProgress may be nil; it is called
// from a separate goroutine in emit order and every event has been delivered
// when Execute returns.
func (d *Dispatcher) Execute(ctx context.Context, req Request, onProgress ProgressFunc) (Response, error) {
	em := newProgressEmitter(onProgress, d.logger)
	defer em.Close()
	return d.execute(ctx, req, em.Emit)
}

// Stream starts req in the background and exposes its progress as a channel.
func (d *Dispatcher) Stream(ctx context.Context, req Request) *Run {
	r := &Run{events: make(chan Progress, 16), done: make(chan struct{})}
	go func() {
		defer close(r.done)
		resp, err := d.Execute(ctx, req, func(p Progress) { r.events <- p })
		r.resp, r.err = resp, err
		close(r.events)
	}()
	return r
}

func (d *Dispatcher) execute(ctx context.Context, req Request, emit func(Progress)) (Response, error) {
	requestID := d.newID()
	ctx, span := d.tracer.Start(ctx, "dispatcher.execute", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.Int("request.attachments", len(req.Attachments)),
	))
	defer span.End()

	logger := d.logger.With(zap.String("request_id", requestID))
	start := d.now()
	d.metrics.requestStarted()
	final := StatusCompleted
	defer func() { d.metrics.requestFinished(final) }()

	progress := func(status Status, total, completed int, running []TaskSnapshot) {
		emit(Progress{
			RequestID:      requestID,
			TotalTasks:     total,
			CompletedTasks: completed,
			RunningTasks:   running,
			Status:         status,
		})
	}
	fail := func(err error, total, completed int) (Response, error) {
		final = StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("request failed", zap.Error(err), zap.Int("completed", completed), zap.Int("total", total))
		progress(StatusFailed, total, completed, nil)
		return Response{}, err
	}

	progress(StatusPlanning, 0, 0, nil)
	if err := d.pause(ctx); err != nil {
		return fail(err, 0, 0)
	}
	planStart := d.now()
	_, planSpan := d.tracer.Start(ctx, "dispatcher.plan")
	plan, err := d.Plan(req)
	planSpan.End()
	if err != nil {
		return fail(err, 0, 0)
	}
	d.metrics.observeStage(StatusPlanning, d.now().Sub(planStart))
	total := len(plan.Tasks)
	span.SetAttributes(attribute.Int("plan.tasks", total), attribute.Int("plan.groups", len(plan.Groups)))
	logger.Debug("plan ready",
		zap.Int("tasks", total),
		zap.Int("groups", len(plan.Groups)),
		zap.Int("estimated_tokens", plan.EstimatedTokens),
		zap.String("route", plan.Route),
	)

	progress(StatusExecuting, total, 0, nil)
	execStart := d.now()
	completed, err := d.executePlan(ctx, plan, logger, func(done int, running []TaskSnapshot) {
		progress(StatusExecuting, total, done, running)
	})
	if err != nil {
		return fail(err, total, len(completed))
	}
	d.metrics.observeStage(StatusExecuting, d.now().Sub(execStart))

	if err := d.pause(ctx); err != nil {
		return fail(err, total, len(completed))
	}
	progress(StatusAggregating, total, len(completed), nil)
	if err := d.pause(ctx); err != nil {
		return fail(err, total, len(completed))
	}
	aggStart := d.now()
	resp := aggregate(completed)
	resp.RequestID = requestID
	resp.Meta.TotalDuration = d.now().Sub(start)
	d.metrics.observeStage(StatusAggregating, d.now().Sub(aggStart))

	progress(StatusCompleted, total, total, nil)
	logger.Info("request completed",
		zap.Int("tasks", resp.Meta.TasksExecuted),
		zap.Int("cached", resp.Meta.CachedResults),
		zap.Int("failed", resp.Meta.FailedTasks),
		zap.Int("tokens", resp.Meta.TotalTokensUsed),
		zap.Duration("duration", resp.Meta.TotalDuration),
	)
	return resp, nil
}

func (d *Dispatcher) pause(ctx context.Context) error {
	return sleepContext(ctx, d.stageDelay)
}

// executePlan runs groups in order and the tasks of a group concurrently.
// The returned tasks are in group order, not completion order.
func (d *Dispatcher) executePlan(ctx context.Context, plan ExecutionPlan, logger *zap.Logger, report func(done int, running []TaskSnapshot)) ([]*Task, error) {
	completed := make([]*Task, 0, len(plan.Tasks))
	for gi, group := range plan.Groups {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		startedAt := d.now()
		running := make([]TaskSnapshot, 0, len(group))
		for _, t := range group {
			plan.queue.UpdateStatus(t.ID, TaskRunning)
			t.StartedAt = startedAt
			running = append(running, t.snapshot())
		}
		report(len(completed), running)
		logger.Debug("group started", zap.Int("group", gi), zap.Int("tasks", len(group)))

		outputs := make([]Output, len(group))
		errs := make([]error, len(group))
		var g errgroup.Group
		if d.maxParallel > 0 {
			g.SetLimit(d.maxParallel)
		}
		for i, t := range group {
			g.Go(func() error {
				outputs[i], errs[i] = d.runTask(ctx, t, logger)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		for i, t := range group {
			out := outputs[i]
			if errs[i] != nil {
				t.Status = TaskFailed
				t.Error = errs[i].Error()
				out = Output{Content: fmt.Sprintf("Task %s (%s) failed: %s", t.ID, t.AgentID, t.Error)}
				logger.Warn("task failed", zap.String("task_id", t.ID), zap.String("agent", t.AgentID), zap.Error(errs[i]))
			} else {
				t.Status = TaskCompleted
			}
			t.Output = &out
			t.CompletedAt = d.now()
			plan.queue.MarkCompleted(t.ID)
			d.metrics.taskFinished(t.AgentID, t.Status)
			completed = append(completed, t)
		}
		report(len(completed), nil)
	}
	return completed, nil
}

func (d *Dispatcher) runTask(ctx context.Context, t *Task, logger *zap.Logger) (out Output, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.task", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("agent.id", t.AgentID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	key := d.cache.Key(t.AgentID, t.Input)
	if cached, ok := d.cache.Get(key); ok {
		d.metrics.cacheLookup(true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		logger.Debug("task served from cache", zap.String("task_id", t.ID), zap.String("agent", t.AgentID), zap.Bool("cached", true))
		return cached, nil
	}
	d.metrics.cacheLookup(false)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	agent, ok := d.agents.Lookup(t.AgentID)
	if !ok {
		logger.Warn("agent not found", zap.String("task_id", t.ID), zap.String("agent", t.AgentID))
		return Output{Content: fmt.Sprintf("Agent %s not found", t.AgentID)}, nil
	}

	// identical tasks running at the same time share one Produce call
	v, err, shared := d.flight.Do(key, func() (any, error) {
		return d.produce(ctx, agent, t, key)
	})
	// a shared call that died with its owner's context says nothing about ours
	if shared && isContextErr(err) && ctx.Err() == nil {
		logger.Debug("shared task cancelled by another request, retrying", zap.String("task_id", t.ID), zap.String("agent", t.AgentID))
		v, err = d.produce(ctx, agent, t, key)
		shared = false
	}
	if err != nil {
		return Output{}, err
	}
	out = v.(Output)
	logger.Debug("task produced",
		zap.String("task_id", t.ID),
		zap.String("agent", t.AgentID),
		zap.String("capability", out.Meta.CapabilityUsed),
		zap.Int("tokens", out.Meta.TokensUsed),
		zap.Bool("shared", shared),
	)
	return out, nil
}

func (d *Dispatcher) produce(ctx context.Context, agent Agent, t *Task, key string) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = Output{}, fmt.Errorf("agent %s panicked: %v", t.AgentID, r)
		}
	}()
	out, err = agent.Produce(ctx, t.Input)
	if err != nil {
		if isContextErr(err) {
			return Output{}, err
		}
		return Output{}, fmt.Errorf("agent %s: %w", t.AgentID, err)
	}
	d.cache.Set(key, out)
	return out, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func aggregate(tasks []*Task) Response {
	resp := Response{Tasks: make([]Task, 0, len(tasks))}
	contents := make([]string, 0, len(tasks))
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, *t)
		if t.Status == TaskFailed {
			resp.Meta.FailedTasks++
		}
		if t.Output == nil {
			continue
		}
		contents = append(contents, t.Output.Content)
		if resp.Code == "" && t.Output.Code != "" {
			resp.Code = t.Output.Code
		}
		resp.Meta.TotalTokensUsed += t.Output.Meta.TokensUsed
		if t.Output.Meta.Cached {
			resp.Meta.CachedResults++
		}
	}
	resp.Meta.TasksExecuted = len(tasks)

	switch {
	case len(contents) > 1:
		sections := make([]string, len(contents))
		for i, c := range contents {
			sections[i] = fmt.Sprintf("### Result %d\n%s", i+1, c)
		}
		resp.Content = strings.Join(sections, "\n\n")
	case len(contents) == 1 && contents[0] != "":
		resp.Content = contents[0]
	default:
		resp.Content = "No results"
	}
	return resp
}
