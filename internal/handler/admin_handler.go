package handler

import (
	"errors"
	"net/http"

	"github.com/folio/internal/db"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionUserIDKey   = "user_id"
	sessionUsernameKey = "username"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login 校验用户名密码并写入会话，同一来源连续失败过多时返回 429
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}

	ctx := c.Request.Context()
	source := c.ClientIP()
	if err := a.logins.Check(ctx, source); err != nil {
		a.respondServiceError(c, err)
		return
	}

	user, err := db.Authenticate(a.db.WithContext(ctx), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidCredentials) {
			if failErr := a.logins.Fail(ctx, source); failErr != nil {
				a.logger.Warn("record login failure", "source", source, "error", failErr)
			}
			respondError(c, http.StatusUnauthorized, "invalid username or password")
			return
		}
		a.respondServiceError(c, err)
		return
	}
	if err := a.logins.Reset(ctx, source); err != nil {
		a.logger.Warn("reset login failures", "source", source, "error", err)
	}

	session := sessions.Default(c)
	session.Set(sessionUserIDKey, user.ID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "username": user.Username})
}

// Logout 清除会话
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Me 返回当前登录用户
func (a *API) Me(c *gin.Context) {
	session := sessions.Default(c)
	userID := session.Get(sessionUserIDKey)
	if userID == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": userID, "username": session.Get(sessionUsernameKey)})
}

// AuthRequired 是一个简单的认证中间件
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAuthenticated(c) {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isAuthenticated(c *gin.Context) bool {
	return sessions.Default(c).Get(sessionUserIDKey) != nil
}
