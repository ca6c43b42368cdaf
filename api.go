package papercrawl

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	sloggin "github.com/samber/slog-gin"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/ledger"
	"github.com/pevans/papercrawl/store"
)

// RecordReader is the store surface used by the API.
type RecordReader interface {
	RecordLister
	SkipChecker
	Load(key article.Key) (*article.Record, error)
}

// RunReader is the ledger surface used by the API.
type RunReader interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*ledger.Run, error)
	ListRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	ItemHistory(ctx context.Context, key article.Key) ([]ledger.Attempt, error)
}

// WorkSource lists the articles of a date's index.
type WorkSource interface {
	ListPendingWork(ctx context.Context, date string) ([]article.WorkItem, error)
}

// APIServer is a read-only HTTP view of the store and the run ledger.
type APIServer struct {
	records RecordReader
	runs    RunReader
	work    WorkSource
	logger  *slog.Logger
}

// NewAPIServer creates an API server. runs and work may be nil, in which
// case their routes answer 404.
func NewAPIServer(records RecordReader, runs RunReader, work WorkSource, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		records: records,
		runs:    runs,
		work:    work,
		logger:  logger.With("component", "api"),
	}
}

// SetupRouter configures the Gin router with all status routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sloggin.New(s.logger))

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.GET("/status", s.HandleStatus)
	api.GET("/status/:date", s.HandleDateStatus)
	api.GET("/pending/:date", s.HandlePending)
	api.GET("/runs", s.HandleListRuns)
	api.GET("/runs/:id", s.HandleGetRun)
	api.GET("/articles/:date/:ref", s.HandleGetArticle)
	api.GET("/articles/:date/:ref/history", s.HandleArticleHistory)

	return router
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	*Report
	SuccessRate float64 `json:"success_rate"`
}

// HandleStatus handles GET /api/v1/status.
func (s *APIServer) HandleStatus(c *gin.Context) {
	report, err := Scan(s.records)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to scan records: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Report: report, SuccessRate: report.SuccessRate()})
}

// DateStatusResponse is the body of GET /api/v1/status/:date.
type DateStatusResponse struct {
	DateStatus
	SuccessRate float64 `json:"success_rate"`
}

// HandleDateStatus handles GET /api/v1/status/:date.
func (s *APIServer) HandleDateStatus(c *gin.Context) {
	date, ok := dateParam(c)
	if !ok {
		return
	}

	report, err := Scan(s.records, date)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to scan records: "+err.Error())
		return
	}
	status := report.Dates[0]
	c.JSON(http.StatusOK, DateStatusResponse{DateStatus: status, SuccessRate: status.SuccessRate()})
}

// PendingResponse is the body of GET /api/v1/pending/:date.
type PendingResponse struct {
	Date    string   `json:"date"`
	Total   int      `json:"total"`
	Pending []string `json:"pending"`
}

// HandlePending handles GET /api/v1/pending/:date. It lists the index
// entries of date that have no valid stored record.
func (s *APIServer) HandlePending(c *gin.Context) {
	if s.work == nil {
		writeError(c, http.StatusNotFound, "not_found", "No index configured")
		return
	}
	date, ok := dateParam(c)
	if !ok {
		return
	}

	items, err := s.work.ListPendingWork(c.Request.Context(), date)
	if err != nil {
		writeError(c, http.StatusNotFound, "not_found", "Index not available: "+err.Error())
		return
	}
	pending, err := Pending(s.records, items)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to check records: "+err.Error())
		return
	}

	refs := make([]string, 0, len(pending))
	for _, item := range pending {
		refs = append(refs, item.ID())
	}
	c.JSON(http.StatusOK, PendingResponse{Date: date, Total: len(items), Pending: refs})
}

// ListRunsResponse is the body of GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []ledger.Run `json:"runs"`
	Limit int          `json:"limit"`
}

// HandleListRuns handles GET /api/v1/runs.
func (s *APIServer) HandleListRuns(c *gin.Context) {
	if s.runs == nil {
		writeError(c, http.StatusNotFound, "not_found", "No ledger configured")
		return
	}

	limit := 20 // default
	if limitParam := c.Query("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
			return
		}
		limit = min(parsed, 500)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to list runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Limit: limit})
}

// HandleGetRun handles GET /api/v1/runs/:id.
func (s *APIServer) HandleGetRun(c *gin.Context) {
	if s.runs == nil {
		writeError(c, http.StatusNotFound, "not_found", "No ledger configured")
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_id", "Invalid run ID format")
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			writeError(c, http.StatusNotFound, "not_found", "Run not found")
			return
		}
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to get run: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

// ArticleResponse is the body of GET /api/v1/articles/:date/:ref.
type ArticleResponse struct {
	*article.Record
	Valid     bool   `json:"valid"`
	Signature string `json:"signature,omitempty"`
}

// HandleGetArticle handles GET /api/v1/articles/:date/:ref.
func (s *APIServer) HandleGetArticle(c *gin.Context) {
	key := article.Key{Date: c.Param("date"), Ref: c.Param("ref")}

	record, err := s.records.Load(key)
	if err != nil {
		if errors.Is(err, store.ErrInvalidKey) {
			writeError(c, http.StatusBadRequest, "invalid_key", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to load record: "+err.Error())
		return
	}
	if record == nil {
		writeError(c, http.StatusNotFound, "not_found", "Article not found")
		return
	}

	verdict := s.records.Classify(*record)
	c.JSON(http.StatusOK, ArticleResponse{
		Record:    record,
		Valid:     verdict.Valid,
		Signature: string(verdict.Signature),
	})
}

// HandleArticleHistory handles GET /api/v1/articles/:date/:ref/history.
func (s *APIServer) HandleArticleHistory(c *gin.Context) {
	if s.runs == nil {
		writeError(c, http.StatusNotFound, "not_found", "No ledger configured")
		return
	}

	key := article.Key{Date: c.Param("date"), Ref: c.Param("ref")}
	if err := article.ValidateDate(key.Date); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_key", err.Error())
		return
	}

	attempts, err := s.runs.ItemHistory(c.Request.Context(), key)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to load history: "+err.Error())
		return
	}
	if attempts == nil {
		attempts = []ledger.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func dateParam(c *gin.Context) (string, bool) {
	date := c.Param("date")
	if err := article.ValidateDate(date); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_date", err.Error())
		return "", false
	}
	return date, true
}
