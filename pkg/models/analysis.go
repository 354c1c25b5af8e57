package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AnalysisStatus is the lifecycle state reported by the analysis service on each poll
type AnalysisStatus string

const (
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether polling must stop after this status
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsKnown reports whether the status is one the service documents
func (s AnalysisStatus) IsKnown() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AnalysisID is the opaque identifier the service assigns at submit time.
// The service sends a JSON number today; strings are accepted as well.
type AnalysisID string

func (id AnalysisID) String() string { return string(id) }

// IsZero reports whether no identifier has been assigned
func (id AnalysisID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts both numeric and string identifiers
func (id *AnalysisID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = AnalysisID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("analysis id must be a number or string: %w", err)
	}
	*id = AnalysisID(n.String())
	return nil
}

// MarshalJSON writes numeric identifiers back as numbers
func (id AnalysisID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := json.Number(id).Int64(); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// FaceLocation is an axis-aligned rectangle around a detected face
type FaceLocation struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AnalysisInsights is the computer-vision payload attached to a completed analysis
type AnalysisInsights struct {
	// Color analysis
	DominantColors []string `json:"dominant_colors"`
	Brightness     int      `json:"brightness"`

	// Face detection
	FacesDetected int            `json:"faces_detected"`
	FaceLocations []FaceLocation `json:"face_locations"`

	// Text extraction
	TextFound     bool    `json:"text_found"`
	ExtractedText *string `json:"extracted_text"`
	WordCount     int     `json:"word_count"`

	// Quality metrics
	SharpnessScore float64 `json:"sharpness_score"`
	BlurLevel      string  `json:"blur_level"`
	ContrastScore  float64 `json:"contrast_score"`
	QualityScore   float64 `json:"quality_score"`

	// Scene classification
	SceneType       string  `json:"scene_type"`
	SceneConfidence float64 `json:"scene_confidence"`
}

// Text returns the extracted text, or "" when none was found
func (i *AnalysisInsights) Text() string {
	if i == nil || !i.TextFound || i.ExtractedText == nil {
		return ""
	}
	return *i.ExtractedText
}

// AnalysisResult is the body of GET /api/results/{id}
type AnalysisResult struct {
	ID       AnalysisID        `json:"id"`
	Status   AnalysisStatus    `json:"status"`
	Insights *AnalysisInsights `json:"insights,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// EffectiveInsights returns the insights only when the analysis completed.
// Whatever the wire payload carries for other statuses is ignored.
func (r *AnalysisResult) EffectiveInsights() *AnalysisInsights {
	if r == nil || r.Status != StatusCompleted {
		return nil
	}
	return r.Insights
}

// Validate checks that a completed result carries a fully populated insights payload.
// Results in any other status are always valid.
func (r *AnalysisResult) Validate() error {
	if r == nil {
		return &ValidationError{Code: "missing_result", Message: "result is nil"}
	}
	if r.Status != StatusCompleted {
		return nil
	}
	if r.Insights == nil {
		return &ValidationError{Code: "missing_insights", Message: "completed result has no insights", Field: "insights"}
	}
	return r.Insights.Validate()
}

// Validate enforces the per-field constraints of a completed payload
func (i *AnalysisInsights) Validate() error {
	switch {
	case len(i.DominantColors) == 0:
		return fieldError("dominant_colors", "must not be empty")
	case i.Brightness < 0 || i.Brightness > 255:
		return fieldError("brightness", fmt.Sprintf("%d outside [0,255]", i.Brightness))
	case i.FacesDetected < 0:
		return fieldError("faces_detected", "must not be negative")
	case len(i.FaceLocations) != i.FacesDetected:
		return fieldError("face_locations", fmt.Sprintf("has %d entries, faces_detected is %d", len(i.FaceLocations), i.FacesDetected))
	case i.WordCount < 0:
		return fieldError("word_count", "must not be negative")
	case !i.TextFound && i.ExtractedText != nil:
		return fieldError("extracted_text", "present although text_found is false")
	case !i.TextFound && i.WordCount != 0:
		return fieldError("word_count", "must be 0 when text_found is false")
	case strings.TrimSpace(i.BlurLevel) == "":
		return fieldError("blur_level", "must not be empty")
	case strings.TrimSpace(i.SceneType) == "":
		return fieldError("scene_type", "must not be empty")
	case i.SceneConfidence < 0 || i.SceneConfidence > 1:
		return fieldError("scene_confidence", fmt.Sprintf("%g outside [0,1]", i.SceneConfidence))
	}
	for idx, loc := range i.FaceLocations {
		if loc.Width < 0 || loc.Height < 0 {
			return fieldError(fmt.Sprintf("face_locations[%d]", idx), "has negative size")
		}
	}
	return nil
}

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Code: "invalid_insights", Message: field + " " + msg, Field: field}
}

// ImageVariant selects which rendering of an analysed image to fetch
type ImageVariant string

const (
	VariantOriginal  ImageVariant = "original"
	VariantAnnotated ImageVariant = "annotated"
)

// Valid reports whether the variant is one the service serves
func (v ImageVariant) Valid() bool {
	return v == VariantOriginal || v == VariantAnnotated
}

// ValidationError represents a structured validation error
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	return e.Message
}
