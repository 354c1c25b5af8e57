// Package textmatch scores OCR output against text the user expected to see.
package textmatch

import (
	"strings"

	"github.com/arbovm/levenshtein"
	"github.com/codycollier/wer"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/pkg/models"
)

// Options controls normalization before comparison
type Options struct {
	IgnoreCase bool
}

// Report is the outcome of one comparison. Rates are in [0, +inf): insertions
// can push an error rate above 1.
type Report struct {
	Expected      string  `json:"expected"`
	Extracted     string  `json:"extracted"`
	TextFound     bool    `json:"text_found"`
	EditDistance  int     `json:"edit_distance"`
	CharErrorRate float64 `json:"char_error_rate"`
	WordErrorRate float64 `json:"word_error_rate"`
	WordAccuracy  float64 `json:"word_accuracy"`
	ExactMatch    bool    `json:"exact_match"`
}

// Compare scores extracted against expected after collapsing whitespace
func Compare(expected, extracted string, opts Options) (*Report, error) {
	ref := normalize(expected, opts)
	if ref == "" {
		return nil, apperrors.NewValidationError("Expected text cannot be empty", nil)
	}
	hyp := normalize(extracted, opts)

	refWords := strings.Fields(ref)
	hypWords := strings.Fields(hyp)
	if hypWords == nil {
		hypWords = []string{}
	}

	distance := levenshtein.Distance(ref, hyp)
	werRate, accuracy := wer.WER(refWords, hypWords)

	return &Report{
		Expected:      expected,
		Extracted:     extracted,
		TextFound:     hyp != "",
		EditDistance:  distance,
		CharErrorRate: float64(distance) / float64(len([]rune(ref))),
		WordErrorRate: werRate,
		WordAccuracy:  accuracy,
		ExactMatch:    ref == hyp,
	}, nil
}

// CompareInsights scores the OCR text of a completed analysis
func CompareInsights(expected string, insights *models.AnalysisInsights, opts Options) (*Report, error) {
	if insights == nil {
		return nil, apperrors.NewValidationError("Analysis has no insights to compare", nil)
	}
	report, err := Compare(expected, insights.Text(), opts)
	if err != nil {
		return nil, err
	}
	report.TextFound = insights.TextFound
	return report, nil
}

func normalize(s string, opts Options) string {
	s = strings.Join(strings.Fields(s), " ")
	if opts.IgnoreCase {
		s = strings.ToLower(s)
	}
	return s
}
