package orchestrator

import (
	"time"

	"github.com/peek-labs/peek/pkg/models"
)

// Snapshot is a read-only copy of the view state handed to presentation
type Snapshot struct {
	Stage         models.Stage           `json:"stage"`
	AnalysisID    models.AnalysisID      `json:"analysis_id,omitempty"`
	Result        *models.AnalysisResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Cycle         uint64                 `json:"cycle"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Polls         int                    `json:"polls"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Insights returns the validated insights, or nil outside the results stage
func (s Snapshot) Insights() *models.AnalysisInsights {
	if s.Stage != models.StageResults || s.Result == nil {
		return nil
	}
	return s.Result.EffectiveInsights()
}

// Elapsed is the time since the cycle started, measured at now
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	return now.Sub(*s.StartedAt)
}
