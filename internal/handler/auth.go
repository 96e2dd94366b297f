package handler

import (
	"context"
	"net/http"
	"shorturl-analytics/internal/apperr"
	"shorturl-analytics/internal/middleware"
	"shorturl-analytics/internal/model"
	"shorturl-analytics/internal/store"
	auth "shorturl-analytics/pkg/jwt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 包含认证相关的处理器
type AuthHandler struct {
	users      *store.UserStore
	jwtManager *auth.TokenManager
	devMode    bool
}

// NewAuthHandler 创建一个新的 AuthHandler
func NewAuthHandler(users *store.UserStore, jwtManager *auth.TokenManager, devMode bool) *AuthHandler {
	return &AuthHandler{users: users, jwtManager: jwtManager, devMode: devMode}
}

// LoginRequest 定义了登录请求的结构体
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"admin"`
	Password string `json:"password" binding:"required" example:"admin"`
}

// RegisterRequest 定义了注册请求的结构体
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50" example:"newuser"`
	Email    string `json:"email" binding:"required,email" example:"newuser@example.com"`
	Password string `json:"password" binding:"required,min=6" example:"password123"`
}

// AuthResponse 定义了认证成功后的响应
type AuthResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// Login godoc
// @Summary 用户登录
// @Description 使用用户名和密码获取 JWT 令牌
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param   account  body   LoginRequest  true  "登录凭据"
// @Success 200 {object} AuthResponse "成功响应"
// @Failure 400 {object} ErrorResponse "请求无效"
// @Failure 401 {object} ErrorResponse "认证失败"
// @Failure 403 {object} ErrorResponse "账户已被禁用"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), req.Username)
	if err != nil && !apperr.Is(err, apperr.NotFound) {
		respondError(c, err, h.devMode)
		return
	}
	if user == nil || !user.CheckPassword(req.Password) {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "用户名或密码错误"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "账户已被禁用"})
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(c, apperr.E("handler.Login", apperr.Internal, err), h.devMode)
		return
	}

	go func(id uint) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.users.TouchLogin(ctx, id, time.Now()); err != nil {
			zap.S().Warnf("更新登录时间失败: %v", err)
		}
	}(user.ID)
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Register godoc
// @Summary 用户注册
// @Description 创建一个新用户并返回 JWT 令牌
// @Tags Auth
// @Accept  json
// @Produce  json
// @Param   account  body   RegisterRequest  true  "注册信息"
// @Success 201 {object} AuthResponse "成功响应"
// @Failure 400 {object} ErrorResponse "请求无效或用户已存在"
// @Failure 500 {object} ErrorResponse "服务器内部错误"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user := model.User{Username: req.Username, Email: req.Email, IsActive: true, Role: model.RoleUser}
	if err := user.SetPassword(req.Password); err != nil {
		respondError(c, apperr.E("handler.Register", apperr.Internal, err), h.devMode)
		return
	}
	if err := h.users.Create(c.Request.Context(), &user); err != nil {
		respondError(c, err, h.devMode)
		return
	}

	token, err := h.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(c, apperr.E("handler.Register", apperr.Internal, err), h.devMode)
		return
	}
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// GetCurrentUser godoc
// @Summary 获取当前用户信息
// @Description 获取当前已登录用户的信息
// @Tags User
// @Security ApiKeyAuth
// @Produce  json
// @Success 200 {object} model.User "成功响应"
// @Failure 401 {object} ErrorResponse "未认证"
// @Failure 404 {object} ErrorResponse "用户不存在"
// @Router /api/me [get]
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := c.Get(middleware.UserIDKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "未认证"})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID.(uint))
	if err != nil {
		respondError(c, err, h.devMode)
		return
	}
	c.JSON(http.StatusOK, user)
}
