package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/folio/internal/abuse"
	"github.com/folio/internal/service"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// respondServiceError maps service and gate errors to status codes. Rate
// limit rejections share one generic body whatever rule tripped.
func (a *API) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPost),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, service.ErrNoChanges),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, service.ErrInvalidVisitor),
		errors.Is(err, abuse.ErrInvalid):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSlugConflict):
		respondError(c, http.StatusConflict, service.ErrSlugConflict.Error())
	case errors.Is(err, service.ErrPostNotFound),
		errors.Is(err, service.ErrContactNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, abuse.ErrRateLimited):
		respondError(c, http.StatusTooManyRequests, abuse.ErrRateLimited.Error())
	default:
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
