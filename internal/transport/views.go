package transport

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/internal/orchestrator"
	"github.com/peek-labs/peek/internal/source"
	"github.com/peek-labs/peek/internal/textmatch"
	"github.com/peek-labs/peek/pkg/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("pages").Funcs(template.FuncMap{
	"score":   func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"upper":   strings.ToUpper,
	"faceLabel": func(n int) string {
		if n == 1 {
			return "face detected"
		}
		return "faces detected"
	},
}).ParseFS(templateFS, "templates/*.html"))

// maxFormMemory is how much of a multipart upload is held in memory before spilling to disk
const maxFormMemory = 8 << 20

var features = []string{
	"Color analysis and dominant palette extraction",
	"Face detection with precise location mapping",
	"Quality metrics: sharpness, blur, and contrast",
	"Text extraction and word count analysis",
	"Scene classification with confidence scores",
}

type imageLinks struct {
	Original  string `json:"original"`
	Annotated string `json:"annotated,omitempty"`
}

type stateResponse struct {
	orchestrator.Snapshot
	// Settled tells pollers of /state that the cycle is over
	Settled   bool              `json:"settled"`
	Images    *imageLinks       `json:"images,omitempty"`
	TextMatch *textmatch.Report `json:"text_match,omitempty"`
}

type pageView struct {
	Stage           models.Stage
	Busy            bool
	RefreshSeconds  int
	Error           string
	Insights        *models.AnalysisInsights
	Images          *imageLinks
	TextMatch       *textmatch.Report
	Features        []string
	ObjectStoreRefs bool
	Slideshow       *slideshow
}

func (h *handler) index(c *gin.Context) {
	state := h.currentState()
	c.HTML(http.StatusOK, "index.html", pageView{
		Stage:           state.Stage,
		Busy:            state.Stage.Busy(),
		RefreshSeconds:  refreshSeconds(h.cfg.PollInterval),
		Error:           state.Error,
		Insights:        state.Insights(),
		Images:          state.Images,
		TextMatch:       state.TextMatch,
		Features:        features,
		ObjectStoreRefs: h.cfg.WebObjectStoreRefs,
		Slideshow:       h.slideshow,
	})
}

func (h *handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.currentState())
}

func (h *handler) upload(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, apperrors.NewValidationError("Image is too large", err))
			return
		}
		respondError(c, http.StatusBadRequest, apperrors.NewValidationError("Invalid upload form", err))
		return
	}

	img, err := h.readImage(c)
	if err != nil {
		respondError(c, apperrors.GetStatusCode(err), err)
		return
	}

	if err := h.deps.Cycles.StartUpload(context.Background(), img.Name, img.Data); err != nil {
		respondError(c, apperrors.GetStatusCode(err), err)
		return
	}

	snapshot := h.deps.Cycles.Snapshot()
	h.expectations.set(snapshot.Cycle, strings.TrimSpace(c.PostForm("expected_text")), c.PostForm("ignore_case") != "")

	logger.WithFields(logrus.Fields{
		"source":         img.Name,
		"bytes":          len(img.Data),
		"cycle":          snapshot.Cycle,
		"correlation_id": snapshot.CorrelationID,
		"ip":             c.ClientIP(),
	}).Info("Upload accepted")

	if wantsJSON(c) {
		c.JSON(http.StatusAccepted, h.currentState())
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) reset(c *gin.Context) {
	h.deps.Cycles.Reset()
	h.expectations.clear()

	if wantsJSON(c) {
		c.JSON(http.StatusOK, h.currentState())
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// readImage takes the uploaded file, or fetches the image_url reference when no file was sent
func (h *handler) readImage(c *gin.Context) (*source.Image, error) {
	fh, err := c.FormFile("image")
	if err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, apperrors.NewValidationError("Invalid upload form", err)
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			return nil, apperrors.NewValidationError("Invalid upload form", err)
		}
		return &source.Image{Name: fh.Filename, Data: data}, nil
	}
	if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return nil, apperrors.NewValidationError("Invalid upload form", err)
	}

	ref := strings.TrimSpace(c.PostForm("image_url"))
	if ref == "" {
		return nil, apperrors.NewValidationError("No image provided", nil)
	}
	if h.deps.Sources == nil {
		return nil, apperrors.NewValidationError("Image references are not supported", nil)
	}
	switch source.KindOf(ref) {
	case source.KindHTTP:
	case source.KindAzure, source.KindS3:
		if !h.cfg.WebObjectStoreRefs {
			return nil, apperrors.NewValidationError("Image URL must use http or https", nil)
		}
	default:
		if h.cfg.WebObjectStoreRefs {
			return nil, apperrors.NewValidationError("Image URL must use http, https, azblob or s3", nil)
		}
		return nil, apperrors.NewValidationError("Image URL must use http or https", nil)
	}
	return h.deps.Sources.Fetch(c.Request.Context(), ref)
}

// currentState decorates a snapshot with variant links and the text match report
func (h *handler) currentState() stateResponse {
	snapshot := h.deps.Cycles.Snapshot()
	state := stateResponse{Snapshot: snapshot, Settled: snapshot.Stage.Settled()}

	insights := snapshot.Insights()
	if insights == nil {
		return state
	}

	state.Images = &imageLinks{Original: h.deps.Links.ImageURL(snapshot.AnalysisID, models.VariantOriginal)}
	if insights.FacesDetected > 0 {
		state.Images.Annotated = h.deps.Links.ImageURL(snapshot.AnalysisID, models.VariantAnnotated)
	}

	if expected, opts, ok := h.expectations.forCycle(snapshot.Cycle); ok {
		report, err := textmatch.CompareInsights(expected, insights, opts)
		if err != nil {
			logger.WithError(err).WithField("cycle", snapshot.Cycle).Warn("text comparison skipped")
		} else {
			state.TextMatch = report
		}
	}
	return state
}
