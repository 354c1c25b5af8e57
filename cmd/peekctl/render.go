package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/peek-labs/peek/internal/textmatch"
	"github.com/peek-labs/peek/pkg/models"
)

type imageLinker interface {
	ImageURL(id models.AnalysisID, variant models.ImageVariant) string
}

// variantLinks lists the variant URLs worth showing; annotated only when faces were found
func variantLinks(l imageLinker, id models.AnalysisID, insights *models.AnalysisInsights) map[string]string {
	links := map[string]string{
		string(models.VariantOriginal): l.ImageURL(id, models.VariantOriginal),
	}
	if insights.FacesDetected > 0 {
		links[string(models.VariantAnnotated)] = l.ImageURL(id, models.VariantAnnotated)
	}
	return links
}

func renderResults(out io.Writer, id models.AnalysisID, insights *models.AnalysisInsights, links map[string]string, report *textmatch.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "ANALYSIS RESULTS\t#%s\n", id)
	fmt.Fprintf(w, "ORIGINAL\t%s\n", links[string(models.VariantOriginal)])
	if annotated, ok := links[string(models.VariantAnnotated)]; ok {
		fmt.Fprintf(w, "FACES DETECTED\t%s\n", annotated)
	}

	fmt.Fprintf(w, "\nDOMINANT COLORS\t%s\n", strings.Join(insights.DominantColors, " "))

	fmt.Fprintln(w, "\nQUALITY METRICS\t")
	fmt.Fprintf(w, "  Overall Quality\t%.1f\n", insights.QualityScore)
	fmt.Fprintf(w, "  Sharpness\t%.1f\n", insights.SharpnessScore)
	fmt.Fprintf(w, "  Contrast\t%.1f\n", insights.ContrastScore)
	fmt.Fprintf(w, "  Blur Level\t%s\n", strings.ToUpper(insights.BlurLevel))
	fmt.Fprintf(w, "  Brightness\t%d/255\n", insights.Brightness)

	label := "faces detected"
	if insights.FacesDetected == 1 {
		label = "face detected"
	}
	fmt.Fprintf(w, "\nFACE DETECTION\t%d %s\n", insights.FacesDetected, label)
	fmt.Fprintf(w, "SCENE TYPE\t%s (%.1f%% confidence)\n", strings.ToUpper(insights.SceneType), insights.SceneConfidence*100)

	if insights.TextFound {
		text := insights.Text()
		if text == "" {
			text = "No text extracted"
		}
		fmt.Fprintf(w, "\nTEXT EXTRACTION (%d words)\t\n", insights.WordCount)
		for _, line := range strings.Split(text, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	if report != nil {
		match := "NO"
		if report.ExactMatch {
			match = "YES"
		}
		fmt.Fprintln(w, "\nEXPECTED TEXT\t")
		fmt.Fprintf(w, "  Exact match\t%s\n", match)
		fmt.Fprintf(w, "  Character error rate\t%.1f%%\n", report.CharErrorRate*100)
		fmt.Fprintf(w, "  Word error rate\t%.1f%%\n", report.WordErrorRate*100)
	}
}
