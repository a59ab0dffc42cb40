package handlers

import (
	"net/http"

	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/admin"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService admin.AuthService
}

func NewAuthHandler(authService admin.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64,alphanum"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Email    string `json:"email" binding:"required,email,max=255"`
}

// LoginRequest 登录请求结构体
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"` // 可以是用户名或邮箱
	Password   string `json:"password" binding:"required"`
}

// Register
// @Summary 用户注册
// @Description 注册新用户，默认角色为 user
// @Tags 用户认证
// @Accept json
// @Produce json
// @Param data body RegisterRequest true "注册信息"
// @Success 201 {object} xerr.Response "注册成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 409 {object} xerr.Response "用户名或邮箱已存在"
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	user, err := h.authService.RegisterUser(c.Request.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeError(c, "Register", err)
		return
	}

	xerr.Success(c, http.StatusCreated, "注册成功", gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
		"role":     user.Role,
	})
}

// Login
// @Summary 用户登录
// @Description 使用用户名或邮箱登录，返回 Bearer Token
// @Tags 用户认证
// @Accept json
// @Produce json
// @Param data body LoginRequest true "登录信息"
// @Success 200 {object} xerr.Response "登录成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 401 {object} xerr.Response "用户名或密码错误"
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	res, err := h.authService.LoginUser(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(c, "Login", err)
		return
	}

	xerr.Success(c, http.StatusOK, "登录成功", gin.H{
		"access_token": res.Token,
		"token_type":   "Bearer",
		"expires_in":   int64(res.ExpiresIn.Seconds()),
		"user": gin.H{
			"id":       res.User.ID,
			"username": res.User.Username,
			"email":    res.User.Email,
			"role":     res.User.Role,
		},
	})
}
