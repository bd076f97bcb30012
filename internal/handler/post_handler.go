package handler

import (
	"bytes"
	"net/http"
	"time"

	"github.com/folio/internal/db"
	"github.com/folio/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML(), html.WithUnsafe()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// postRequest is shared by create and both update routes; pointer fields
// tell a missing field apart from an empty one.
type postRequest struct {
	ID        *uint     `json:"id"`
	Title     *string   `json:"title"`
	Date      *string   `json:"date"`
	Summary   *string   `json:"summary"`
	Slug      *string   `json:"slug"`
	Tags      *[]string `json:"tags"`
	Body      *string   `json:"body"`
	Published *bool     `json:"published"`
}

func (r postRequest) input() service.PostInput {
	input := service.PostInput{Published: r.Published}
	if r.Title != nil {
		input.Title = *r.Title
	}
	if r.Date != nil {
		input.Date = *r.Date
	}
	if r.Summary != nil {
		input.Summary = *r.Summary
	}
	if r.Slug != nil {
		input.Slug = *r.Slug
	}
	if r.Tags != nil {
		input.Tags = *r.Tags
	}
	if r.Body != nil {
		input.Body = *r.Body
	}
	return input
}

func (r postRequest) patch() service.PostPatch {
	return service.PostPatch{
		Title:     r.Title,
		Date:      r.Date,
		Summary:   r.Summary,
		Slug:      r.Slug,
		Tags:      r.Tags,
		Body:      r.Body,
		Published: r.Published,
	}
}

type postResponse struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Summary   string    `json:"summary"`
	Slug      string    `json:"slug"`
	Tags      []string  `json:"tags"`
	Published bool      `json:"published"`
	Body      string    `json:"body,omitempty"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newPostResponse(post *db.Post, withBody bool) postResponse {
	resp := postResponse{
		ID:        post.ID,
		Title:     post.Title,
		Date:      post.Date,
		Summary:   post.Summary,
		Slug:      post.Slug,
		Tags:      post.TagList(),
		Published: post.Published,
		CreatedAt: post.CreatedAt,
		UpdatedAt: post.UpdatedAt,
	}
	if withBody {
		resp.Body = post.Body
	}
	return resp
}

// renderBody converts the markdown body to sanitized HTML.
func renderBody(body string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return sanitizer.Sanitize(buf.String()), nil
}

// ListPosts 返回文章列表；管理员可通过 ?all=1 查看草稿
func (a *API) ListPosts(c *gin.Context) {
	includeDrafts := c.Query("all") == "1" && isAuthenticated(c)
	posts, err := a.posts.List(c.Request.Context(), includeDrafts)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	resp := make([]postResponse, 0, len(posts))
	for i := range posts {
		resp = append(resp, newPostResponse(&posts[i], false))
	}
	c.JSON(http.StatusOK, resp)
}

// GetPost 根据 slug 返回单篇文章及渲染后的 HTML
func (a *API) GetPost(c *gin.Context) {
	post, err := a.posts.GetBySlug(c.Request.Context(), c.Param("slug"), isAuthenticated(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	resp := newPostResponse(post, true)
	rendered, err := renderBody(post.Body)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	resp.HTML = rendered
	c.JSON(http.StatusOK, resp)
}

// CreatePost 创建文章并同步镜像文件
func (a *API) CreatePost(c *gin.Context) {
	var req postRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}

	post, err := a.posts.Create(c.Request.Context(), req.input())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newPostResponse(post, false))
}

// UpdatePost 更新文章，ID 取自路径参数
func (a *API) UpdatePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid post id")
		return
	}

	var req postRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}
	a.applyUpdate(c, id, req)
}

// UpdatePostByBody 更新文章，ID 取自请求体
func (a *API) UpdatePostByBody(c *gin.Context) {
	var req postRequest
	if !bindJSON(c, &req, "invalid request body") {
		return
	}
	if req.ID == nil || *req.ID == 0 {
		respondError(c, http.StatusBadRequest, "invalid post id")
		return
	}
	a.applyUpdate(c, *req.ID, req)
}

func (a *API) applyUpdate(c *gin.Context, id uint, req postRequest) {
	post, err := a.posts.Update(c.Request.Context(), id, req.patch())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPostResponse(post, true))
}

// DeletePost 删除文章及其镜像文件
func (a *API) DeletePost(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid post id")
		return
	}

	if err := a.posts.Delete(c.Request.Context(), id); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CleanupPosts 删除缺少 slug 或标题的文章
func (a *API) CleanupPosts(c *gin.Context) {
	deleted, err := a.posts.CleanupMalformed(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// SyncPostFiles 重新生成所有文章的镜像文件
func (a *API) SyncPostFiles(c *gin.Context) {
	report, err := a.posts.ResyncMirrors(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
