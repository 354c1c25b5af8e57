package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peek-labs/peek/pkg/models"
)

// CycleEvent describes one step of an upload-poll cycle
type CycleEvent struct {
	EventType     EventType              `json:"event_type"`
	Timestamp     time.Time              `json:"timestamp"`
	Cycle         uint64                 `json:"cycle"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	AnalysisID    models.AnalysisID      `json:"analysis_id,omitempty"`
	Source        string                 `json:"source,omitempty"`
	From          models.Stage           `json:"from"`
	To            models.Stage           `json:"to"`
	Elapsed       time.Duration          `json:"elapsed"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of cycle event
type EventType string

const (
	// UploadStarted when an image is handed to the service
	UploadStarted EventType = "upload_started"
	// UploadFailed when submit fails and the cycle never starts
	UploadFailed EventType = "upload_failed"
	// AnalysisStarted when the service accepted the image and polling begins
	AnalysisStarted EventType = "analysis_started"
	// PollCompleted after every poll that leaves the cycle analyzing
	PollCompleted EventType = "poll_completed"
	// AnalysisCompleted when validated results are available
	AnalysisCompleted EventType = "analysis_completed"
	// AnalysisFailed when the service, a poll or the result guard ends the cycle
	AnalysisFailed EventType = "analysis_failed"
	// AnalysisTimedOut when the wall-clock timeout ends the cycle
	AnalysisTimedOut EventType = "analysis_timed_out"
	// CycleCancelled when a reset or a newer upload supersedes the cycle
	CycleCancelled EventType = "cycle_cancelled"
	// StateReset when the view returns to idle
	StateReset EventType = "state_reset"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event CycleEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event CycleEvent)
}

// LoggingObserver logs cycle events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles cycle events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event CycleEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"cycle":      event.Cycle,
		"from":       event.From,
		"to":         event.To,
		"elapsed":    event.Elapsed.String(),
	}
	if event.CorrelationID != "" {
		fields["correlation_id"] = event.CorrelationID
	}
	if !event.AnalysisID.IsZero() {
		fields["analysis_id"] = event.AnalysisID.String()
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case UploadStarted:
		entry.Info("Image upload started")
	case AnalysisStarted:
		entry.Info("Image analysis started")
	case PollCompleted:
		entry.Debug("Analysis still processing")
	case AnalysisCompleted:
		entry.Info("Image analysis completed")
	case UploadFailed:
		entry.Error("Image upload failed")
	case AnalysisFailed:
		entry.Error("Image analysis failed")
	case AnalysisTimedOut:
		entry.Warn("Image analysis timed out")
	case CycleCancelled:
		entry.Info("Analysis cycle cancelled")
	case StateReset:
		entry.Debug("View reset to idle")
	default:
		entry.Info("Cycle event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// CycleMetrics is the payload of the cycle metrics endpoint
type CycleMetrics struct {
	Uploads           int64   `json:"uploads"`
	UploadFailures    int64   `json:"upload_failures"`
	AnalysesStarted   int64   `json:"analyses_started"`
	Polls             int64   `json:"polls"`
	Completed         int64   `json:"completed"`
	Failed            int64   `json:"failed"`
	TimedOut          int64   `json:"timed_out"`
	Cancelled         int64   `json:"cancelled"`
	AvgCompletionSecs float64 `json:"avg_completion_seconds"`

	// Events describes the delivery queue; set by whoever owns the publisher
	Events *PoolStats `json:"events,omitempty"`
}

// MetricsObserver collects counters from cycle events
type MetricsObserver struct {
	mu                  sync.RWMutex
	metrics             CycleMetrics
	totalCompletionTime time.Duration
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// OnEvent handles cycle events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event CycleEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case UploadStarted:
		o.metrics.Uploads++
	case UploadFailed:
		o.metrics.UploadFailures++
	case AnalysisStarted:
		o.metrics.AnalysesStarted++
	case PollCompleted:
		o.metrics.Polls++
	case AnalysisCompleted:
		o.metrics.Polls++
		o.metrics.Completed++
		o.totalCompletionTime += event.Elapsed
	case AnalysisFailed:
		if polled, _ := event.Metadata["polled"].(bool); polled {
			o.metrics.Polls++
		}
		o.metrics.Failed++
	case AnalysisTimedOut:
		o.metrics.TimedOut++
	case CycleCancelled:
		o.metrics.Cancelled++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() CycleMetrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := o.metrics
	if m.Completed > 0 {
		m.AvgCompletionSecs = (o.totalCompletionTime / time.Duration(m.Completed)).Seconds()
	}
	return m
}

// EventPublisher implements the Subject interface. Observers run on a single
// worker so every observer sees events in publication order.
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pool      *WorkerPool
}

// NewEventPublisher creates a new event publisher with room for queueSize pending events
func NewEventPublisher(queueSize int) *EventPublisher {
	pool := NewWorkerPoolWithQueue(1, queueSize)
	pool.Start()
	return &EventPublisher{
		observers: make([]Observer, 0),
		pool:      pool,
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers queues the event for every current observer
func (p *EventPublisher) NotifyObservers(ctx context.Context, event CycleEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	queued := p.pool.Submit(func() {
		for _, obs := range observers {
			deliver(ctx, obs, event)
		}
	})
	if !queued {
		logrus.WithField("event_type", event.EventType).Warn("Event dropped after publisher close")
	}
}

// Stats reports how many events were queued and delivered
func (p *EventPublisher) Stats() PoolStats {
	return p.pool.GetStats()
}

// Flush blocks until every queued event has been delivered
func (p *EventPublisher) Flush() {
	p.pool.Wait()
}

// Close delivers queued events and stops the worker
func (p *EventPublisher) Close() {
	p.pool.Close()
	p.pool.Wait()
}

func deliver(ctx context.Context, obs Observer, event CycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			// Log panic but don't crash the application
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
