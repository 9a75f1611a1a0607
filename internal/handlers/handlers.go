package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/medverify/internal/domain"
	"github.com/example/medverify/internal/usecase"
)

// MaxUploadSize is the default upload limit in bytes.
const MaxUploadSize = 10 << 20

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

// VerificationService is the use case surface the handlers need.
type VerificationService interface {
	VerifyImage(ctx context.Context, upload usecase.Upload) (*usecase.Verification, error)
	GetResult(ctx context.Context, requestID string) (*usecase.Verification, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Catalog is the read side of the reference database.
type Catalog interface {
	Get(id string) (domain.ReferenceMedicine, error)
	Search(query string) []domain.ReferenceMedicine
}

type handler struct {
	svc            VerificationService
	catalog        Catalog
	maxUploadBytes int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router. analyzeMiddleware runs
// in front of the analysis endpoint only. A non-positive maxUploadBytes uses
// MaxUploadSize.
func RegisterRoutes(router *gin.Engine, svc VerificationService, catalog Catalog, maxUploadBytes int64, analyzeMiddleware ...gin.HandlerFunc) {
	if maxUploadBytes <= 0 {
		maxUploadBytes = MaxUploadSize
	}
	h := &handler{svc: svc, catalog: catalog, maxUploadBytes: maxUploadBytes}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.POST("/analyze", append(analyzeMiddleware, h.analyze)...)
	api.GET("/results/:id", h.result)
	api.GET("/results/:id/duplicates", h.duplicates)
	api.GET("/medicines", h.searchMedicines)
	api.GET("/medicines/:id", h.medicine)
	api.GET("/metrics", h.metrics)
}

func (h *handler) analyze(c *gin.Context) {
	// Leave room for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image"})
		return
	}

	contentType := uploadContentType(file, data)
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type " + contentType})
		return
	}

	v, err := h.svc.VerifyImage(c.Request.Context(), usecase.Upload{Data: data, ContentType: contentType})
	if err != nil {
		_ = c.Error(err)
		status, body := analysisErrorResponse(err)
		var reqErr *usecase.RequestError
		if errors.As(err, &reqErr) {
			body["requestId"] = reqErr.RequestID
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handler) result(c *gin.Context) {
	requestID := c.Param("id")
	v, err := h.svc.GetResult(c.Request.Context(), requestID)
	if err != nil {
		var noVerdict *usecase.NoVerdictError
		switch {
		case errors.As(err, &noVerdict) && noVerdict.Outcome == usecase.OutcomeProcessing:
			c.JSON(http.StatusAccepted, gin.H{"requestId": requestID, "status": usecase.OutcomeProcessing})
		case errors.As(err, &noVerdict):
			c.JSON(http.StatusNotFound, gin.H{"error": "no verdict for request", "requestId": requestID, "outcome": noVerdict.Outcome})
		case errors.Is(err, usecase.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		}
		return
	}
	c.JSON(http.StatusOK, v)
}

type duplicateEntry struct {
	RequestID  string    `json:"requestId"`
	Outcome    string    `json:"outcome"`
	Authentic  bool      `json:"authentic"`
	Confidence int       `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *handler) duplicates(c *gin.Context) {
	report, err := h.svc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	case errors.Is(err, usecase.ErrPersistenceDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load duplicates"})
		return
	}

	entries := make([]duplicateEntry, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		entries = append(entries, duplicateEntry{
			RequestID:  d.RequestID,
			Outcome:    d.Outcome,
			Authentic:  d.Authentic,
			Confidence: d.Confidence,
			CreatedAt:  d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"requestId":  report.Request.RequestID,
		"imageHash":  report.Request.ImageHash,
		"duplicates": entries,
	})
}

func (h *handler) searchMedicines(c *gin.Context) {
	medicines := h.catalog.Search(c.Query("q"))
	if medicines == nil {
		medicines = []domain.ReferenceMedicine{}
	}
	c.JSON(http.StatusOK, gin.H{"medicines": medicines, "count": len(medicines)})
}

func (h *handler) medicine(c *gin.Context) {
	m, err := h.catalog.Get(c.Param("id"))
	if errors.Is(err, domain.ErrMedicineNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "medicine not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load medicine"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// uploadContentType trusts the part header unless it is missing or generic.
func uploadContentType(file *multipart.FileHeader, data []byte) string {
	declared := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

func analysisErrorResponse(err error) (int, gin.H) {
	var (
		extractionErr *domain.ExtractionError
		timeoutErr    *domain.AnalysisTimeoutError
		failedErr     *domain.AnalysisFailedError
	)
	switch {
	case errors.As(err, &extractionErr):
		return http.StatusUnprocessableEntity, gin.H{"error": "image could not be analysed", "reason": extractionErr.Reason}
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, gin.H{"error": "analysis timed out", "stage": timeoutErr.Stage}
	case errors.Is(err, domain.ErrCancelled):
		return statusClientClosedRequest, gin.H{"error": "analysis cancelled"}
	case errors.As(err, &failedErr):
		return http.StatusInternalServerError, gin.H{"error": "analysis failed", "stage": failedErr.Stage}
	default:
		return http.StatusInternalServerError, gin.H{"error": "verification failed"}
	}
}
