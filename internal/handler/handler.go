package handler

import (
	"context"
	"net/http"
	"shorturl-analytics/internal/middleware"
	"shorturl-analytics/internal/recorder"
	"shorturl-analytics/internal/service"
	"shorturl-analytics/internal/store"
	"shorturl-analytics/internal/validate"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// RecorderStats 点击记录器的运行计数
type RecorderStats interface {
	Stats() recorder.Stats
}

// LinkHandler 短链接相关的处理器
type LinkHandler struct {
	links    *service.LinkService
	recorder RecorderStats
	devMode  bool
}

// NewLinkHandler recorder 可以为 nil
func NewLinkHandler(links *service.LinkService, rec RecorderStats, devMode bool) *LinkHandler {
	return &LinkHandler{links: links, recorder: rec, devMode: devMode}
}

// ShortenRequest 创建短链接请求
type ShortenRequest struct {
	URL         string  `json:"url" example:"example.com/very/long/path"`
	CustomAlias *string `json:"customAlias,omitempty" example:"spring-sale"`
	TTLDays     *int    `json:"ttlDays,omitempty" example:"30"`
}

// AdminStats 管理端统计
type AdminStats struct {
	store.Stats
	Recorder *recorder.Stats `json:"recorder,omitempty"`
}

// HealthCheck godoc
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} gin.H
// @Failure 503 {object} gin.H
// @Router /health [get]
func (h *LinkHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.links.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "timestamp": time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

// Shorten godoc
// @Summary 创建短链接
// @Description 为长 URL 创建短链接。未指定别名且已有同一 URL 的有效短链接时直接返回已有记录
// @Tags ShortLink
// @Accept  json
// @Produce  json
// @Param   request  body   ShortenRequest  true  "长链接"
// @Success 201 {object} Response "新建"
// @Success 200 {object} Response "已存在"
// @Failure 400 {object} ErrorResponse "请求无效或别名已存在"
// @Failure 429 {object} ErrorResponse "请求过于频繁"
// @Failure 503 {object} ErrorResponse "无法生成唯一短码"
// @Router /api/urls/shorten [post]
func (h *LinkHandler) Shorten(c *gin.Context) {
	var req ShortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	view, created, err := h.links.Shorten(c.Request.Context(), validate.ShortenRequest{
		URL:         req.URL,
		CustomAlias: req.CustomAlias,
		TTLDays:     req.TTLDays,
	}, middleware.CurrentUsername(c))
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}

	if !created {
		respondOK(c, http.StatusOK, view, "该 URL 已有短链接")
		return
	}
	respondOK(c, http.StatusCreated, view, "短链接创建成功")
}

// List godoc
// @Summary 分页查询短链接
// @Tags ShortLink
// @Produce json
// @Param page  query int false "页码" default(1)
// @Param limit query int false "每页数量，最大 50" default(10)
// @Success 200 {object} Response{data=service.ListResult}
// @Router /api/urls [get]
func (h *LinkHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(service.DefaultPageSize)))

	result, err := h.links.List(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	respondOK(c, http.StatusOK, result, "")
}

// Analytics godoc
// @Summary 短链接访问统计
// @Tags Analytics
// @Produce json
// @Param code path string true "短码或别名"
// @Success 200 {object} Response{data=analytics.Summary}
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/analytics/{code} [get]
func (h *LinkHandler) Analytics(c *gin.Context) {
	summary, err := h.links.Analytics(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	respondOK(c, http.StatusOK, summary, "")
}

// Deactivate godoc
// @Summary 停用短链接
// @Description 软删除，记录和访问数据保留
// @Tags ShortLink
// @Produce json
// @Param code path string true "短码或别名"
// @Success 200 {object} Response
// @Failure 404 {object} ErrorResponse
// @Router /api/urls/{code} [delete]
func (h *LinkHandler) Deactivate(c *gin.Context) {
	if err := h.links.Deactivate(c.Request.Context(), c.Param("code")); err != nil {
		respondError(c, err, h.devMode)
		return
	}
	respondOK(c, http.StatusOK, nil, "短链接已停用")
}

// Redirect godoc
// @Summary 短链接跳转
// @Tags ShortLink
// @Param code path string true "短码或别名"
// @Success 301 "跳转到原始地址"
// @Failure 404 {object} ErrorResponse "不存在或已停用"
// @Failure 410 {object} ErrorResponse "已过期"
// @Router /{code} [get]
func (h *LinkHandler) Redirect(c *gin.Context) {
	target, err := h.links.Resolve(c.Request.Context(), c.Param("code"), service.ClickMeta{
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
		Referrer:  c.Request.Referer(),
	})
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	// 浏览器缓存 301 后不会再访问本服务，访问统计会丢失
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusMovedPermanently, target)
}

// Stats godoc
// @Summary 全局统计
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} Response{data=AdminStats}
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/admin/stats [get]
func (h *LinkHandler) Stats(c *gin.Context) {
	stats, err := h.links.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	out := AdminStats{Stats: stats}
	if h.recorder != nil {
		rs := h.recorder.Stats()
		out.Recorder = &rs
	}
	respondOK(c, http.StatusOK, out, "")
}

// Sweep godoc
// @Summary 立即执行过期清理
// @Tags Admin
// @Security ApiKeyAuth
// @Produce json
// @Success 200 {object} Response{data=service.SweepResult}
// @Router /api/admin/sweep [post]
func (h *LinkHandler) Sweep(c *gin.Context) {
	result, err := h.links.SweepExpired(c.Request.Context())
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	respondOK(c, http.StatusOK, result, "清理完成")
}
