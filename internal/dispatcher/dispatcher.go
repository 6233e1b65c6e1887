package dispatcher

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/communicator"
	"github.com/yhwhpe/unrug-agent/events"
	"github.com/yhwhpe/unrug-agent/form"
	"github.com/yhwhpe/unrug-agent/internal/metrics"
	"github.com/yhwhpe/unrug-agent/saga"
)

// FailureMessage is sent when a handler fails. The active field is kept so the
// user can retry the same step.
const FailureMessage = "Something went wrong, please try again."

// CommandFunc handles a slash command. It runs inside the conversation's lane.
type CommandFunc func(ctx context.Context, ev events.Event) error

type Options struct {
	Messenger communicator.Messenger
	// Journal is optional.
	Journal saga.SagaLogger
	// Metrics is optional.
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	HandlerTimeout time.Duration
	TaskTimeout    time.Duration
}

// Dispatcher routes inbound chat events into field transitions. Events of one
// conversation are processed strictly one after another, in arrival order, on a
// lane goroutine that exits when the conversation goes idle. Conversations are
// independent of each other.
type Dispatcher struct {
	registry       *form.Registry
	messenger      communicator.Messenger
	journal        saga.SagaLogger
	metrics        *metrics.Metrics
	logger         *zap.Logger
	handlerTimeout time.Duration
	taskTimeout    time.Duration

	commandsMu sync.RWMutex
	commands   map[string]CommandFunc

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup

	tasksCtx  context.Context
	stopTasks context.CancelFunc
}

type lane struct {
	queue []job
}

type job struct {
	ctx  context.Context
	ev   events.Event
	done chan error
}

// New creates a dispatcher over registry.
func New(registry *form.Registry, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tasksCtx, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		registry:       registry,
		messenger:      opts.Messenger,
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		logger:         logger.Named("dispatcher"),
		handlerTimeout: opts.HandlerTimeout,
		taskTimeout:    opts.TaskTimeout,
		commands:       make(map[string]CommandFunc),
		lanes:          make(map[string]*lane),
		tasksCtx:       tasksCtx,
		stopTasks:      stop,
	}
}

func (d *Dispatcher) Registry() *form.Registry { return d.registry }

// HandleCommand registers fn for "/name".
func (d *Dispatcher) HandleCommand(name string, fn CommandFunc) {
	d.commandsMu.Lock()
	defer d.commandsMu.Unlock()
	d.commands[name] = fn
}

// Submit queues ev on its conversation's lane and returns immediately.
func (d *Dispatcher) Submit(ctx context.Context, ev events.Event) {
	d.enqueue(job{ctx: ctx, ev: ev})
}

// Handle queues ev and waits until it has been processed.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) error {
	done := make(chan error, 1)
	d.enqueue(job{ctx: ctx, ev: ev, done: done})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(j job) {
	conv := j.ev.ConversationID

	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[conv]; ok {
		l.queue = append(l.queue, j)
		return
	}
	l := &lane{queue: []job{j}}
	d.lanes[conv] = l
	d.wg.Add(1)
	go d.run(conv, l)
}

func (d *Dispatcher) run(conv string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, conv)
			d.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue[0] = job{}
		l.queue = l.queue[1:]
		d.mu.Unlock()

		err := d.process(j.ctx, j.ev)
		if j.done != nil {
			j.done <- err
		}
	}
}

// Wait blocks until every lane is idle and every detached task has finished.
// When ctx expires first, running tasks are cancelled.
func (d *Dispatcher) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		d.stopTasks()
		<-idle
		return ctx.Err()
	}
}

func (d *Dispatcher) process(ctx context.Context, ev events.Event) (err error) {
	if err := ev.Validate(); err != nil {
		d.logger.Debug("dropping invalid event", zap.String("event_id", ev.EventID), zap.Error(err))
		return err
	}
	if d.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.handlerTimeout)
		defer cancel()
	}

	started := time.Now()
	flow := ""
	if inst := d.registry.GetForm(ev.ConversationID); inst != nil {
		flow = inst.Definition().ID()
	}
	defer func() {
		d.metrics.ObserveHandler(flow, time.Since(started))
		d.metrics.SetActiveFlows(d.registry.Len())
	}()

	logger := d.logger.With(
		zap.String("conversation", ev.ConversationID),
		zap.String("event_id", ev.EventID),
		zap.String("kind", string(ev.Kind)))

	var outcome string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			d.say(ctx, ev.ConversationID, FailureMessage, nil)
			outcome = metrics.OutcomeFailed
			err = nil
		}
		d.metrics.ObserveEvent(string(ev.Kind), outcome)
	}()

	switch ev.Kind {
	case events.KindCommand:
		outcome = d.command(ctx, logger, ev)
	case events.KindText:
		outcome = d.text(ctx, logger, ev)
	case events.KindChoice:
		outcome = d.choice(ctx, logger, ev)
	}
	return nil
}

func (d *Dispatcher) command(ctx context.Context, logger *zap.Logger, ev events.Event) string {
	d.commandsMu.RLock()
	fn, ok := d.commands[ev.Command]
	d.commandsMu.RUnlock()
	if !ok {
		logger.Debug("ignoring unknown command", zap.String("command", ev.Command))
		return metrics.OutcomeIgnored
	}
	if err := fn(ctx, ev); err != nil {
		logger.Warn("command failed", zap.String("command", ev.Command), zap.Error(err))
		d.say(ctx, ev.ConversationID, FailureMessage, nil)
		return metrics.OutcomeFailed
	}
	return metrics.OutcomeCommand
}

func (d *Dispatcher) text(ctx context.Context, logger *zap.Logger, ev events.Event) string {
	inst, field, ok := d.active(logger, ev.ConversationID)
	if !ok {
		return metrics.OutcomeIgnored
	}
	logger = logger.With(zap.String("flow", inst.Definition().ID()), zap.String("field", field.Name()))
	if field.Kind() != form.KindText {
		logger.Debug("ignoring text for choice field")
		return metrics.OutcomeIgnored
	}

	value, err := field.Parse(ev.Payload)
	if err != nil {
		var verr *form.ValidationError
		if !errors.As(err, &verr) {
			logger.Warn("parse failed", zap.Error(err))
			d.say(ctx, ev.ConversationID, FailureMessage, nil)
			return metrics.OutcomeFailed
		}
		d.journalRejected(ctx, inst, field, verr.Message)
		d.say(ctx, ev.ConversationID, verr.Message, nil)
		return metrics.OutcomeRejected
	}
	return d.step(ctx, logger, ev, inst, field, value)
}

func (d *Dispatcher) choice(ctx context.Context, logger *zap.Logger, ev events.Event) string {
	inst, field, ok := d.active(logger, ev.ConversationID)
	if !ok {
		return metrics.OutcomeIgnored
	}
	logger = logger.With(zap.String("flow", inst.Definition().ID()), zap.String("field", field.Name()))

	c, ok := events.ParseChoice(ev.Payload)
	if !ok || c.Flow != inst.Definition().ID() || c.Field != field.Name() ||
		field.Kind() != form.KindChoice || !field.HasChoice(c.Key) {
		logger.Debug("ignoring stale choice", zap.String("payload", ev.Payload))
		return metrics.OutcomeIgnored
	}
	return d.step(ctx, logger, ev, inst, field, c.Key)
}

// active resolves the conversation's instance and its active field.
func (d *Dispatcher) active(logger *zap.Logger, conv string) (*form.Instance, *form.Field, bool) {
	inst := d.registry.GetForm(conv)
	if inst == nil {
		logger.Debug("no active flow")
		return nil, nil, false
	}
	name := inst.GetActiveField()
	if name == "" {
		logger.Debug("flow has no active field")
		return nil, nil, false
	}
	field, ok := inst.Definition().Field(name)
	if !ok {
		logger.Error("active field is not declared", zap.String("field", name))
		return nil, nil, false
	}
	return inst, field, true
}

func (d *Dispatcher) step(ctx context.Context, logger *zap.Logger, ev events.Event, inst *form.Instance, field *form.Field, value any) string {
	s := form.NewScope(d.registry, inst, field, ev, value)
	out, err := field.Handle(ctx, s)
	if err != nil {
		logger.Warn("handler failed", zap.Error(err))
		if s.Current() {
			d.say(ctx, ev.ConversationID, FailureMessage, nil)
		}
		return metrics.OutcomeFailed
	}

	tr, err := d.registry.Apply(s, out)
	switch {
	case errors.Is(err, form.ErrSuperseded):
		logger.Debug("flow superseded while handling event")
		return metrics.OutcomeIgnored
	case err != nil:
		logger.Error("could not apply handler outcome", zap.Error(err))
		d.say(ctx, ev.ConversationID, FailureMessage, nil)
		return metrics.OutcomeFailed
	}

	if tr.Rejected {
		d.journalRejected(ctx, inst, field, tr.Message)
		d.emit(ctx, inst, tr)
		return metrics.OutcomeRejected
	}

	next := ""
	if tr.Prompt != nil {
		next = tr.Prompt.Name()
	}
	d.log(ctx, inst, saga.FieldAcceptedEvent{
		BaseEvent: saga.NewBaseEvent(saga.FieldAccepted, inst.Generation()),
		Flow:      inst.Definition().ID(),
		Field:     field.Name(),
		Value:     value,
		NextField: next,
	})
	if tr.Ended {
		d.log(ctx, inst, saga.FlowEndedEvent{
			BaseEvent: saga.NewBaseEvent(saga.FlowEnded, inst.Generation()),
			Flow:      inst.Definition().ID(),
			Field:     field.Name(),
		})
		logger.Info("flow ended")
	}
	d.emit(ctx, inst, tr)
	return metrics.OutcomeAccepted
}

// Start installs a fresh instance of def for the conversation, replacing any
// active flow, and prompts its start field. Call it from a command.
func (d *Dispatcher) Start(ctx context.Context, conv string, def *form.Definition) *form.Instance {
	inst, tr := d.registry.Start(conv, def)
	d.log(ctx, inst, saga.FlowStartedEvent{
		BaseEvent:  saga.NewBaseEvent(saga.FlowStarted, inst.Generation()),
		Flow:       def.ID(),
		StartField: def.Start(),
	})
	d.logger.Info("flow started",
		zap.String("conversation", conv),
		zap.String("flow", def.ID()),
		zap.String("generation", inst.Generation()))
	d.emit(ctx, inst, tr)
	return inst
}

// Reset discards the conversation's flow, if any.
func (d *Dispatcher) Reset(conv string) {
	d.registry.ResetForm(conv)
}

// emit performs the visible part of a transition: the outcome message, then the
// next field's prompt with its buttons, then any detached task.
func (d *Dispatcher) emit(ctx context.Context, inst *form.Instance, tr form.Transition) {
	conv := inst.Conversation()
	if tr.Message != "" {
		d.say(ctx, conv, tr.Message, nil)
	}
	if tr.Prompt != nil {
		if text := tr.Prompt.Prompt(tr.Values); text != "" {
			d.say(ctx, conv, text, communicator.ChoiceKeyboard(inst.Definition().ID(), tr.Prompt))
		}
	}
	if tr.Task != nil {
		d.spawn(conv, inst.Definition().ID(), tr.Task, tr.Values)
	}
}

// spawn runs a terminal task outside the lane so a long wallet approval does not
// hold up the conversation's next events.
func (d *Dispatcher) spawn(conv, flow string, task form.Task, values form.Values) {
	ctx := d.tasksCtx
	cancel := context.CancelFunc(func() {})
	if d.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("task panicked",
					zap.String("conversation", conv),
					zap.String("flow", flow),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}()
		task(ctx, values)
	}()
}

// say sends text, logging failures. Sends are never retried.
func (d *Dispatcher) say(ctx context.Context, conv, text string, kb *communicator.Keyboard) {
	if d.messenger == nil {
		return
	}
	if _, err := d.messenger.SendText(ctx, conv, text, kb); err != nil {
		d.logger.Warn("send failed", zap.String("conversation", conv), zap.Error(err))
	}
}

func (d *Dispatcher) journalRejected(ctx context.Context, inst *form.Instance, field *form.Field, reason string) {
	d.log(ctx, inst, saga.FieldRejectedEvent{
		BaseEvent: saga.NewBaseEvent(saga.FieldRejected, inst.Generation()),
		Flow:      inst.Definition().ID(),
		Field:     field.Name(),
		Reason:    reason,
	})
}

// log writes to the journal. Journal failures never affect the flow.
func (d *Dispatcher) log(ctx context.Context, inst *form.Instance, event saga.EventUnion) {
	if d.journal == nil {
		return
	}
	if err := d.journal.LogEvent(ctx, inst.Definition().ID(), inst.Conversation(), event); err != nil {
		d.logger.Warn("journal write failed",
			zap.String("conversation", inst.Conversation()),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err))
	}
}
