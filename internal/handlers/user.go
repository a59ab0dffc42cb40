package handlers

import (
	"net/http"

	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/admin"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService admin.UserService
}

func NewUserHandler(userService admin.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

type AssignRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=admin user viewer"`
}

// GetUserProfile
// @Summary 获取当前用户信息
// @Tags 用户
// @Produce json
// @Security BearerAuth
// @Success 200 {object} xerr.Response "用户信息"
// @Failure 401 {object} xerr.Response "未认证"
// @Router /api/v1/users/me [get]
func (h *UserHandler) GetUserProfile(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}
	user, err := h.userService.GetUserProfile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, "GetUserProfile", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取用户信息成功", user)
}

// ListUsers
// @Summary 用户列表（管理员）
// @Tags 用户
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response "用户列表"
// @Failure 403 {object} xerr.Response "需要管理员权限"
// @Router /api/v1/users [get]
func (h *UserHandler) ListUsers(c *gin.Context) {
	page, pageSize := pagination(c)
	users, total, err := h.userService.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		writeError(c, "ListUsers", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取用户列表成功", gin.H{
		"users": users,
		"total": total,
	})
}

// AssignRole
// @Summary 修改用户角色（管理员）
// @Tags 用户
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户 ID"
// @Param data body AssignRoleRequest true "新角色"
// @Success 200 {object} xerr.Response "修改成功"
// @Failure 400 {object} xerr.Response "角色无效"
// @Failure 403 {object} xerr.Response "需要管理员权限"
// @Failure 404 {object} xerr.Response "用户不存在"
// @Router /api/v1/users/{id}/role [put]
func (h *UserHandler) AssignRole(c *gin.Context) {
	userID, ok := paramUint64(c, "id")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}

	user, err := h.userService.AssignRole(c.Request.Context(), p, userID, req.Role)
	if err != nil {
		writeError(c, "AssignRole", err)
		return
	}
	xerr.Success(c, http.StatusOK, "角色修改成功", user)
}
