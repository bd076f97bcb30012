package handler

import (
	"net/http"

	"github.com/folio/internal/abuse"
	"github.com/gin-gonic/gin"
)

type contactRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	Honeypot string `json:"hp"`
	// Timestamp is the form render time in Unix seconds.
	Timestamp *int64 `json:"ts"`
}

// SubmitContact 接收前台联系表单
func (a *API) SubmitContact(c *gin.Context) {
	var req contactRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}

	sub := abuse.Submission{
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		Honeypot:  req.Honeypot,
		Source:    c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if req.Timestamp != nil {
		sub.Timestamp = *req.Timestamp
	}

	msg, verdict, err := a.contacts.Submit(c.Request.Context(), sub)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	if verdict == abuse.VerdictTrapped {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": msg.ID})
}

// ListContacts 分页返回留言
func (a *API) ListContacts(c *gin.Context) {
	items, err := a.contacts.List(c.Request.Context(), parseIntQuery(c, "skip", 0), parseIntQuery(c, "limit", 0))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(items))
	for _, item := range items {
		resp = append(resp, gin.H{
			"id":        item.ID,
			"name":      item.Name,
			"email":     item.Email,
			"message":   item.Message,
			"ip":        item.IP,
			"userAgent": item.UserAgent,
			"createdAt": item.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteContact 删除一条留言
func (a *API) DeleteContact(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid contact id")
		return
	}
	if err := a.contacts.Delete(c.Request.Context(), id); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
