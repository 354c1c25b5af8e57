package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/internal/observer"
	"github.com/peek-labs/peek/pkg/models"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 120 * time.Second
)

var (
	// ErrBusy is returned by StartUpload while a cycle is uploading or analyzing
	ErrBusy = apperrors.NewConflictError("An analysis is already in progress")
	// ErrSuperseded is returned by an upload whose submit finished after a reset or a newer upload
	ErrSuperseded = errors.New("upload superseded before the service answered")
)

// Transport is the part of the analysis service client the orchestrator drives
type Transport interface {
	Submit(ctx context.Context, name string, data []byte) (*models.SubmitResponse, error)
	Poll(ctx context.Context, id models.AnalysisID) (*models.AnalysisResult, error)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the wall clock, typically with a fake in tests
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithPollInterval sets the spacing between the end of one poll and the start of the next
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithTimeout sets the wall-clock limit of the analyzing stage
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPublisher sends every stage transition to subject
func WithPublisher(subject observer.Subject) Option {
	return func(o *Orchestrator) { o.events = subject }
}

// Orchestrator owns the view state and drives the upload-poll cycle.
// Every field below mu is guarded by it. Events raised under mu are queued in
// pending and handed to the publisher by unlock, after mu is released.
type Orchestrator struct {
	transport    Transport
	clock        clockwork.Clock
	events       observer.Subject
	pollInterval time.Duration
	timeout      time.Duration
	log          *logrus.Entry

	// publishMu keeps events in transition order; it is taken before mu is released
	publishMu sync.Mutex

	mu            sync.Mutex
	pending       []observer.CycleEvent
	stage         models.Stage
	token         uint64
	cycle         *Cycle
	cancelUpload  context.CancelFunc
	id            models.AnalysisID
	result        *models.AnalysisResult
	err           error
	errMsg        string
	source        string
	correlationID string
	polls         int
	startedAt     *time.Time
	updatedAt     time.Time
}

// New creates an idle orchestrator
func New(transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transport:    transport,
		clock:        clockwork.NewRealClock(),
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		log:          logger.WithComponent("orchestrator"),
		stage:        models.StageIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.updatedAt = o.clock.Now()
	return o
}

// Upload submits an image and starts a polling cycle. Any cycle in flight is
// cancelled first. On submit failure the view moves to error and no cycle starts.
func (o *Orchestrator) Upload(ctx context.Context, name string, data []byte) (*Cycle, error) {
	token, submitCtx, cancel, err := o.begin(ctx, name, len(data), false)
	if err != nil {
		return nil, err
	}
	return o.submit(submitCtx, cancel, token, name, data)
}

// StartUpload enters the uploading stage before returning and submits in the
// background. It refuses with ErrBusy while a cycle is in flight.
func (o *Orchestrator) StartUpload(ctx context.Context, name string, data []byte) error {
	token, submitCtx, cancel, err := o.begin(ctx, name, len(data), true)
	if err != nil {
		return err
	}
	go func() {
		if _, err := o.submit(submitCtx, cancel, token, name, data); err != nil && err != ErrSuperseded {
			o.log.WithField("source", name).WithError(err).Debug("background upload ended in error")
		}
	}()
	return nil
}

// begin supersedes the current cycle and moves to uploading under a new token
func (o *Orchestrator) begin(ctx context.Context, name string, size int, exclusive bool) (uint64, context.Context, context.CancelFunc, error) {
	o.mu.Lock()
	defer o.unlock()

	if exclusive && o.stage.Busy() {
		return 0, nil, nil, ErrBusy
	}
	o.supersedeLocked()
	o.token++
	submitCtx, cancel := context.WithCancel(ctx)
	o.cancelUpload = cancel

	now := o.clock.Now()
	o.clearLocked()
	o.source = name
	o.correlationID = uuid.NewString()
	o.startedAt = &now
	o.setStageLocked(models.StageUploading, observer.UploadStarted, map[string]interface{}{"bytes": size})
	return o.token, submitCtx, cancel, nil
}

// submit sends the image and, if token is still current, starts the cycle
func (o *Orchestrator) submit(ctx context.Context, cancel context.CancelFunc, token uint64, name string, data []byte) (*Cycle, error) {
	resp, err := o.transport.Submit(ctx, name, data)
	cancel()

	o.mu.Lock()
	defer o.unlock()

	if token != o.token {
		o.log.WithFields(logrus.Fields{"cycle": token, "source": name}).Debug("discarding superseded upload")
		return nil, ErrSuperseded
	}
	o.cancelUpload = nil

	if err != nil {
		o.failLocked(observer.UploadFailed, err, nil)
		return nil, err
	}
	if resp == nil || resp.ID.IsZero() {
		err = apperrors.NewUploadError("", fmt.Errorf("service returned no analysis id"))
		o.failLocked(observer.UploadFailed, err, nil)
		return nil, err
	}

	started := o.clock.Now()
	if o.startedAt != nil {
		started = *o.startedAt
	}
	cycle := newCycle(token, resp.ID, o.correlationID, name, started, o.abandon)
	o.cycle = cycle
	o.id = resp.ID

	// The first poll and the timeout are armed at the same instant.
	pollTimer := o.clock.NewTimer(o.pollInterval)
	cycle.timeout = o.clock.AfterFunc(o.timeout, func() { o.expire(cycle) })
	o.setStageLocked(models.StageAnalyzing, observer.AnalysisStarted, nil)

	go o.run(cycle, pollTimer)
	return cycle, nil
}

// run is the poll loop of one cycle. A poll is issued only after the previous
// one returned and the cadence timer fired again.
func (o *Orchestrator) run(c *Cycle, timer clockwork.Timer) {
	defer close(c.done)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.Chan():
		}

		if !o.isActive(c) {
			return
		}
		result, err := o.transport.Poll(c.ctx, c.id)
		if o.handlePoll(c, result, err) {
			return
		}
		timer.Reset(o.pollInterval)
	}
}

// handlePoll applies one poll outcome and reports whether the loop must stop
func (o *Orchestrator) handlePoll(c *Cycle, result *models.AnalysisResult, err error) bool {
	o.mu.Lock()
	defer o.unlock()

	if !o.isCurrentLocked(c) {
		return true
	}
	o.polls++

	if err == nil && result == nil {
		err = apperrors.NewPollError("", fmt.Errorf("empty poll response"))
	}
	if err != nil {
		o.failLocked(observer.AnalysisFailed, err, map[string]interface{}{"polled": true, "reason": "poll_error"})
		return true
	}

	if !result.Status.IsKnown() {
		o.log.WithFields(o.fieldsLocked()).WithField("status", result.Status).
			Warn("unrecognized analysis status, still waiting")
	}
	if !result.Status.IsTerminal() {
		o.updatedAt = o.clock.Now()
		o.publishLocked(observer.PollCompleted, o.stage, map[string]interface{}{"status": string(result.Status)})
		return false
	}

	if result.Status == models.StatusCompleted {
		if verr := result.Validate(); verr != nil {
			o.log.WithFields(o.fieldsLocked()).WithError(verr).Warn("completed result failed validation")
			o.failLocked(observer.AnalysisFailed, apperrors.NewIncompleteResultError(verr),
				map[string]interface{}{"polled": true, "reason": "invalid_result"})
			return true
		}
		o.result = result
		o.finishCycleLocked()
		o.setStageLocked(models.StageResults, observer.AnalysisCompleted, nil)
		return true
	}

	o.failLocked(observer.AnalysisFailed, apperrors.NewAnalysisFailedError(strings.TrimSpace(result.Error)),
		map[string]interface{}{"polled": true, "reason": "service_failed"})
	return true
}

// expire is the timeout callback of c
func (o *Orchestrator) expire(c *Cycle) {
	o.mu.Lock()
	defer o.unlock()

	if !o.isCurrentLocked(c) || o.stage != models.StageAnalyzing {
		return
	}
	o.failLocked(observer.AnalysisTimedOut, apperrors.NewTimeoutError("", nil),
		map[string]interface{}{"timeout": o.timeout.String()})
}

// abandon handles an explicit Cycle.Cancel from outside the orchestrator
func (o *Orchestrator) abandon(c *Cycle) {
	o.mu.Lock()
	defer o.unlock()

	if !o.isCurrentLocked(c) {
		return
	}
	o.resetLocked()
}

// Reset cancels any cycle in flight and returns to idle with no identifier,
// result or error message. Resetting an idle orchestrator is a no-op.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.unlock()
	o.resetLocked()
}

func (o *Orchestrator) resetLocked() {
	if o.stage == models.StageIdle && o.cycle == nil && o.cancelUpload == nil {
		return
	}
	o.supersedeLocked()
	o.token++
	o.clearLocked()
	o.setStageLocked(models.StageIdle, observer.StateReset, nil)
}

// Snapshot returns a copy of the current view state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.unlock()

	s := Snapshot{
		Stage:         o.stage,
		AnalysisID:    o.id,
		Error:         o.errMsg,
		Cycle:         o.token,
		CorrelationID: o.correlationID,
		Source:        o.source,
		Polls:         o.polls,
		UpdatedAt:     o.updatedAt,
	}
	if o.stage == models.StageResults {
		s.Result = o.result
	}
	if o.startedAt != nil {
		started := *o.startedAt
		s.StartedAt = &started
	}
	return s
}

// Err returns the error behind the error stage, nil in any other stage
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.unlock()
	if o.stage != models.StageError {
		return nil
	}
	return o.err
}

// Settings reports the cadence and timeout in effect
func (o *Orchestrator) Settings() (pollInterval, timeout time.Duration) {
	return o.pollInterval, o.timeout
}

func (o *Orchestrator) isActive(c *Cycle) bool {
	o.mu.Lock()
	defer o.unlock()
	return o.isCurrentLocked(c) && o.stage == models.StageAnalyzing
}

func (o *Orchestrator) isCurrentLocked(c *Cycle) bool {
	return o.cycle == c && c.token == o.token && !c.cancelled()
}

// supersedeLocked stops whatever the current token is driving
func (o *Orchestrator) supersedeLocked() {
	busy := o.stage.Busy()
	if o.cancelUpload != nil {
		o.cancelUpload()
		o.cancelUpload = nil
	}
	if o.cycle != nil {
		o.cycle.stop()
		o.cycle = nil
	}
	if busy {
		o.publishLocked(observer.CycleCancelled, o.stage, nil)
	}
}

func (o *Orchestrator) finishCycleLocked() {
	if o.cycle != nil {
		o.cycle.stop()
		o.cycle = nil
	}
}

func (o *Orchestrator) failLocked(event observer.EventType, err error, meta map[string]interface{}) {
	msg := apperrors.UserMessage(err)
	if msg == "" {
		msg = apperrors.MsgAnalysisFailed
	}
	o.finishCycleLocked()
	o.result = nil
	o.err = err
	o.errMsg = msg
	o.setStageLocked(models.StageError, event, meta)
}

func (o *Orchestrator) clearLocked() {
	o.id = ""
	o.result = nil
	o.err = nil
	o.errMsg = ""
	o.source = ""
	o.correlationID = ""
	o.polls = 0
	o.startedAt = nil
}

func (o *Orchestrator) setStageLocked(to models.Stage, event observer.EventType, meta map[string]interface{}) {
	from := o.stage
	o.stage = to
	o.updatedAt = o.clock.Now()

	o.log.WithFields(o.fieldsLocked()).WithField("from", from).Debug("stage changed")
	o.publishLocked(event, from, meta)
}

func (o *Orchestrator) publishLocked(event observer.EventType, from models.Stage, meta map[string]interface{}) {
	if o.events == nil {
		return
	}
	e := observer.CycleEvent{
		EventType:     event,
		Timestamp:     o.clock.Now(),
		Cycle:         o.token,
		CorrelationID: o.correlationID,
		AnalysisID:    o.id,
		Source:        o.source,
		From:          from,
		To:            o.stage,
		ErrorMessage:  o.errMsg,
		Metadata:      meta,
	}
	if o.startedAt != nil {
		e.Elapsed = e.Timestamp.Sub(*o.startedAt)
	}
	o.pending = append(o.pending, e)
}

// unlock releases mu, then publishes the events queued while it was held.
// Observers may block or read the orchestrator without holding up other callers.
func (o *Orchestrator) unlock() {
	events := o.pending
	o.pending = nil
	if len(events) == 0 {
		o.mu.Unlock()
		return
	}

	o.publishMu.Lock()
	o.mu.Unlock()
	defer o.publishMu.Unlock()
	for _, e := range events {
		o.events.NotifyObservers(context.Background(), e)
	}
}

func (o *Orchestrator) fieldsLocked() logrus.Fields {
	fields := logrus.Fields{
		"cycle": o.token,
		"stage": o.stage,
	}
	if !o.id.IsZero() {
		fields["analysis_id"] = o.id.String()
	}
	if o.correlationID != "" {
		fields["correlation_id"] = o.correlationID
	}
	return fields
}
