// Command peekctl submits one image to the analysis service and prints the results.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/peek-labs/peek/internal/config"
	"github.com/peek-labs/peek/internal/container"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/internal/textmatch"
	"github.com/peek-labs/peek/pkg/models"
)

func main() {
	var (
		expected   = flag.String("expected", "", "text the image should contain; adds a text match report")
		ignoreCase = flag.Bool("ignore-case", false, "compare expected text case-insensitively")
		annotated  = flag.String("save-annotated", "", "write the annotated image here when faces were detected")
		asJSON     = flag.Bool("json", false, "print the final state as JSON")
		verbose    = flag.Bool("v", false, "log cycle events to stderr")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <path | http(s)://... | azblob://container/blob | s3://bucket/key>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(flag.Arg(0), *expected, *ignoreCase, *annotated, *asJSON, *verbose))
}

func run(ref, expected string, ignoreCase bool, annotatedPath string, asJSON, verbose bool) int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	cfg.LogLevel = "warn"
	if verbose {
		cfg.LogLevel = "debug"
	}
	// the operator names the image directly, so local and private hosts are fair game
	cfg.ImageAllowPrivateHosts = true
	logger.Logger.SetOutput(os.Stderr)
	gin.SetMode(gin.ReleaseMode)

	c, err := container.NewContainer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return 1
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	img, err := c.Sources().Fetch(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", ref, err)
		return 1
	}

	orch := c.Orchestrator()
	cycle, err := orch.Upload(ctx, img.Name, img.Data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", orch.Snapshot().Error)
		return 1
	}
	fmt.Fprintf(os.Stderr, "ANALYZING IMAGE %s (id %s)...\n", img.Name, cycle.ID())

	select {
	case <-cycle.Done():
	case <-ctx.Done():
		cycle.Cancel()
		fmt.Fprintln(os.Stderr, "cancelled")
		return 130
	}

	snapshot := orch.Snapshot()
	if !snapshot.Stage.Settled() {
		fmt.Fprintln(os.Stderr, "cancelled")
		return 130
	}
	insights := snapshot.Insights()
	if insights == nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", snapshot.Error)
		return 1
	}

	var report *textmatch.Report
	if expected != "" {
		report, err = textmatch.CompareInsights(expected, insights, textmatch.Options{IgnoreCase: ignoreCase})
		if err != nil {
			fmt.Fprintf(os.Stderr, "text match: %v\n", err)
		}
	}

	links := variantLinks(c.Client(), snapshot.AnalysisID, insights)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			AnalysisID models.AnalysisID        `json:"analysis_id"`
			Insights   *models.AnalysisInsights `json:"insights"`
			Images     map[string]string        `json:"images"`
			TextMatch  *textmatch.Report        `json:"text_match,omitempty"`
		}{snapshot.AnalysisID, insights, links, report}); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
	} else {
		renderResults(os.Stdout, snapshot.AnalysisID, insights, links, report)
	}

	if annotatedPath != "" {
		if insights.FacesDetected == 0 {
			fmt.Fprintln(os.Stderr, "no faces detected; annotated image not saved")
			return 0
		}
		data, _, err := c.Client().FetchImage(ctx, snapshot.AnalysisID, models.VariantAnnotated)
		if err != nil {
			fmt.Fprintf(os.Stderr, "download annotated image: %v\n", err)
			return 1
		}
		if err := os.WriteFile(annotatedPath, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", annotatedPath, err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "annotated image written to %s\n", annotatedPath)
	}
	return 0
}
