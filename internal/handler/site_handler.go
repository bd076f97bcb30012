package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/folio/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	visitorCookieName   = "folio_visitor_id"
	visitorCookieMaxAge = 365 * 24 * 60 * 60
)

// GetSettings 返回站点设置
func (a *API) GetSettings(c *gin.Context) {
	settings, err := a.settings.Get(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpsertSettings 保存站点设置
func (a *API) UpsertSettings(c *gin.Context) {
	var input service.SiteSettings
	if !bindJSON(c, &input, "invalid request body") {
		return
	}

	settings, err := a.settings.Update(c.Request.Context(), input)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// TrackVisit 记录一次页面访问
func (a *API) TrackVisit(c *gin.Context) {
	visitorID := a.ensureVisitorID(c)
	if err := a.analytics.RecordVisit(c.Request.Context(), visitorID, time.Now()); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TrackCV 记录一次简历下载
func (a *API) TrackCV(c *gin.Context) {
	if err := a.analytics.RecordCVDownload(c.Request.Context(), time.Now()); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetStats returns the dashboard counters.
func (a *API) GetStats(c *gin.Context) {
	stats, err := a.analytics.Stats(c.Request.Context(), time.Now())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) ensureVisitorID(c *gin.Context) string {
	if id, err := c.Cookie(visitorCookieName); err == nil && strings.TrimSpace(id) != "" {
		return id
	}

	visitorID := uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     visitorCookieName,
		Value:    visitorID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		MaxAge:   visitorCookieMaxAge,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		SameSite: http.SameSiteLaxMode,
	})
	return visitorID
}
