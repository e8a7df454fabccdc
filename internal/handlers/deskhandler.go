package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobquest-hive/internal/auth"
	"github.com/justsurfingit/jobquest-hive/internal/dtos"
	"github.com/justsurfingit/jobquest-hive/internal/remote"
	"github.com/justsurfingit/jobquest-hive/internal/rounds"
	"github.com/justsurfingit/jobquest-hive/internal/services"
)

const defaultHistoryLimit = 50

// DeskHandler serves the round desk API on top of the session service.
type DeskHandler struct {
	Sessions       *services.SessionService
	MaxUploadBytes int64
}

func NewDeskHandler(s *services.SessionService, maxUploadBytes int64) *DeskHandler {
	return &DeskHandler{Sessions: s, MaxUploadBytes: maxUploadBytes}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var apiErr *remote.APIError
	var urlErr *url.Error
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDeskNotFound),
		errors.Is(err, rounds.ErrRoundNotFound),
		errors.Is(err, services.ErrCandidateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "upstream_status": apiErr.StatusCode})
	case errors.As(err, &urlErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Hive backend unreachable: " + err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *DeskHandler) desk(c *gin.Context) (*services.Desk, bool) {
	d, err := h.Sessions.Get(c.Param("deskId"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return d, true
}

func roundParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("round"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid round number %q", c.Param("round"))})
		return 0, false
	}
	return n, true
}

// OpenDesk is POST /desks. It hydrates a new desk with the caller's token.
func (h *DeskHandler) OpenDesk(c *gin.Context) {
	var req dtos.OpenDeskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token := auth.BearerToken(c.GetHeader("Authorization"))
	d, err := h.Sessions.Open(c.Request.Context(), req.JobID, token)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": d.View()})
}

func (h *DeskHandler) GetDesk(c *gin.Context) {
	d, found := h.desk(c)
	if !found {
		return
	}
	ok(c, d.View())
}

func (h *DeskHandler) CloseDesk(c *gin.Context) {
	if err := h.Sessions.Close(c.Param("deskId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MyRounds is GET /me/rounds, the caller's own results across jobs.
func (h *DeskHandler) MyRounds(c *gin.Context) {
	token := auth.BearerToken(c.GetHeader("Authorization"))
	results, err := h.Sessions.UserRoundResults(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, results)
}

func (h *DeskHandler) SyncHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.Sessions.History(c.Request.Context(), c.Param("jobId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, recs)
}

// bindOptionalJSON binds the body into req and tolerates an empty body.
func bindOptionalJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
