package models

// Stage is the client-side view state of the current analysis cycle
type Stage string

const (
	StageIdle      Stage = "idle"
	StageUploading Stage = "uploading"
	StageAnalyzing Stage = "analyzing"
	StageResults   Stage = "results"
	StageError     Stage = "error"
)

// Busy reports whether a cycle is in flight in this stage
func (s Stage) Busy() bool {
	return s == StageUploading || s == StageAnalyzing
}

// Settled reports whether the stage ends a cycle
func (s Stage) Settled() bool {
	return s == StageResults || s == StageError
}
