package router

import (
	"fmt"

	"github.com/folio/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const sessionName = "folio_session"

// SetupRouter 配置 Gin 引擎和路由
// Only the listed proxies may supply X-Forwarded-For; with none the client IP
// is the remote address, which keys the contact and login limits.
func SetupRouter(sessionSecret string, trustedProxies []string, api *handler.API) (*gin.Engine, error) {
	r := gin.Default()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	auth := r.Group("/auth")
	{
		auth.POST("/login", api.Login)
		auth.POST("/logout", api.Logout)
		auth.GET("/me", api.Me)
	}

	// 公开路由
	r.GET("/posts", api.ListPosts)
	r.GET("/posts/:slug", api.GetPost)
	r.POST("/contact", api.SubmitContact)
	r.GET("/home", api.GetHome)
	r.GET("/settings", api.GetSettings)
	r.POST("/track/visit", api.TrackVisit)
	r.POST("/track/cv", api.TrackCV)

	// 需要认证的路由
	admin := r.Group("")
	admin.Use(handler.AuthRequired())
	{
		admin.POST("/posts", api.CreatePost)
		admin.PUT("/posts", api.UpdatePostByBody)
		admin.PUT("/posts/:id", api.UpdatePost)
		admin.DELETE("/posts/cleanup/nulls", api.CleanupPosts)
		admin.DELETE("/posts/:id", api.DeletePost)
		admin.POST("/posts/sync/files", api.SyncPostFiles)

		admin.GET("/contact", api.ListContacts)
		admin.DELETE("/contact/:id", api.DeleteContact)

		admin.POST("/home/upsert", api.UpsertHome)
		admin.DELETE("/home", api.DeleteHome)

		admin.POST("/settings/upsert", api.UpsertSettings)
		admin.GET("/stats", api.GetStats)
	}

	return r, nil
}
