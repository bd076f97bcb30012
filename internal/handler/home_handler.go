package handler

import (
	"net/http"

	"github.com/folio/internal/service"
	"github.com/gin-gonic/gin"
)

// GetHome 返回首页文档
func (a *API) GetHome(c *gin.Context) {
	home, err := a.home.Get(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, home)
}

// UpsertHome 覆盖首页文档
func (a *API) UpsertHome(c *gin.Context) {
	var input service.HomeInput
	if !bindJSON(c, &input, "invalid request body") {
		return
	}

	home, err := a.home.Upsert(c.Request.Context(), input)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, home)
}

// DeleteHome 重置首页文档
func (a *API) DeleteHome(c *gin.Context) {
	if err := a.home.Delete(c.Request.Context()); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
