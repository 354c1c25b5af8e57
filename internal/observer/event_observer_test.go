package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/peek-labs/peek/pkg/models"
)

type recordingObserver struct {
	name   string
	mu     sync.Mutex
	events []EventType
}

func (r *recordingObserver) OnEvent(ctx context.Context, event CycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.EventType)
}

func (r *recordingObserver) GetObserverName() string { return r.name }

type panickingObserver struct{}

func (panickingObserver) OnEvent(ctx context.Context, event CycleEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string                       { return "panicking" }

func TestEventPublisher_DeliversInOrder(t *testing.T) {
	publisher := NewEventPublisher(8)
	defer publisher.Close()

	rec := &recordingObserver{name: "recorder"}
	publisher.Subscribe(panickingObserver{})
	publisher.Subscribe(rec)

	sequence := []EventType{UploadStarted, AnalysisStarted, PollCompleted, PollCompleted, AnalysisCompleted, StateReset}
	for _, et := range sequence {
		publisher.NotifyObservers(context.Background(), CycleEvent{EventType: et})
	}
	publisher.Flush()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != len(sequence) {
		t.Fatalf("Expected %d events, got %d", len(sequence), len(rec.events))
	}
	for i := range sequence {
		if rec.events[i] != sequence[i] {
			t.Errorf("Event %d: expected %s, got %s", i, sequence[i], rec.events[i])
		}
	}
}

func TestEventPublisher_Stats(t *testing.T) {
	publisher := NewEventPublisher(8)
	defer publisher.Close()
	publisher.Subscribe(&recordingObserver{name: "recorder"})

	for i := 0; i < 3; i++ {
		publisher.NotifyObservers(context.Background(), CycleEvent{EventType: PollCompleted})
	}
	publisher.Flush()

	stats := publisher.Stats()
	if stats.TotalJobs != 3 || stats.CompletedJobs != 3 || stats.ActiveWorkers != 0 {
		t.Errorf("Unexpected publisher stats %+v", stats)
	}
}

func TestEventPublisher_Unsubscribe(t *testing.T) {
	publisher := NewEventPublisher(0)
	defer publisher.Close()

	rec := &recordingObserver{name: "recorder"}
	publisher.Subscribe(rec)
	publisher.Unsubscribe(rec)

	publisher.NotifyObservers(context.Background(), CycleEvent{EventType: UploadStarted})
	publisher.Flush()

	if len(rec.events) != 0 {
		t.Errorf("Expected no events after unsubscribe, got %v", rec.events)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetricsObserver()
	ctx := context.Background()

	events := []CycleEvent{
		{EventType: UploadStarted},
		{EventType: UploadFailed},
		{EventType: UploadStarted},
		{EventType: AnalysisStarted},
		{EventType: PollCompleted},
		{EventType: AnalysisCompleted, Elapsed: 4 * time.Second},
		{EventType: UploadStarted},
		{EventType: AnalysisStarted},
		{EventType: AnalysisFailed, Metadata: map[string]interface{}{"polled": true}},
		{EventType: UploadStarted},
		{EventType: AnalysisStarted},
		{EventType: AnalysisTimedOut},
		{EventType: CycleCancelled},
	}
	for _, e := range events {
		m.OnEvent(ctx, e)
	}

	got := m.GetMetrics()
	expected := CycleMetrics{
		Uploads:           4,
		UploadFailures:    1,
		AnalysesStarted:   3,
		Polls:             3,
		Completed:         1,
		Failed:            1,
		TimedOut:          1,
		Cancelled:         1,
		AvgCompletionSecs: 4,
	}
	if got != expected {
		t.Errorf("Expected %+v, got %+v", expected, got)
	}
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})

	obs := NewLoggingObserver(l)
	obs.OnEvent(context.Background(), CycleEvent{
		EventType:    AnalysisFailed,
		Cycle:        3,
		AnalysisID:   "7",
		From:         models.StageAnalyzing,
		To:           models.StageError,
		ErrorMessage: "corrupt image",
	})

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("Expected JSON log line, got %q", buf.String())
	}
	if line["level"] != "error" || line["analysis_id"] != "7" || line["error"] != "corrupt image" {
		t.Errorf("Unexpected log line %v", line)
	}
	if !strings.Contains(line["msg"].(string), "failed") {
		t.Errorf("Unexpected message %v", line["msg"])
	}
}
