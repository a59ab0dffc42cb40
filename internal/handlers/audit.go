package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	queryService audit.QueryService
}

func NewAuditHandler(queryService audit.QueryService) *AuditHandler {
	return &AuditHandler{queryService: queryService}
}

// parseTimeQuery 解析 RFC3339 时间参数，空值返回 nil
func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, name+" 必须是 RFC3339 时间")
		return nil, false
	}
	t = t.UTC()
	return &t, true
}

// auditFilterFromQuery 读取公共的过滤参数，失败时已写入 400 响应
func auditFilterFromQuery(c *gin.Context) (repositories.AuditFilter, bool) {
	since, ok := parseTimeQuery(c, "since")
	if !ok {
		return repositories.AuditFilter{}, false
	}
	until, ok := parseTimeQuery(c, "until")
	if !ok {
		return repositories.AuditFilter{}, false
	}
	filter := repositories.AuditFilter{
		Actor:        c.Query("actor"),
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Outcome:      c.Query("outcome"),
		Since:        since,
		Until:        until,
	}
	if raw := c.Query("file_id"); raw != "" {
		fileID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || fileID == 0 {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "file_id 格式无效")
			return repositories.AuditFilter{}, false
		}
		filter.FileID = fileID
	}
	return filter, true
}

func writeAuditLogs(c *gin.Context, logs []models.AuditLog, total int64) {
	xerr.Success(c, http.StatusOK, "获取审计日志成功", gin.H{
		"logs":  logs,
		"total": total,
	})
}

// ListAuditLogs
// @Summary 审计日志（管理员）
// @Description 按操作者、动作、资源、文件、结果和时间范围过滤审计日志，按时间倒序
// @Tags 审计
// @Produce json
// @Security BearerAuth
// @Param actor query string false "操作者，例如 user:1 或 anonymous"
// @Param action query string false "动作，例如 share_redeem"
// @Param resource_type query string false "资源类型"
// @Param resource_id query string false "资源 ID"
// @Param file_id query int false "涉及的文件 ID"
// @Param outcome query string false "success / denied / failure"
// @Param since query string false "起始时间 (RFC3339)"
// @Param until query string false "结束时间 (RFC3339)"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response "审计日志列表"
// @Failure 403 {object} xerr.Response "需要管理员权限"
// @Router /api/v1/audit [get]
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	filter, ok := auditFilterFromQuery(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	logs, total, err := h.queryService.List(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		writeError(c, "ListAuditLogs", err)
		return
	}
	writeAuditLogs(c, logs, total)
}

// ListMyActivity
// @Summary 我的操作记录
// @Description 当前用户作为操作者的审计事件，actor 参数被忽略
// @Tags 审计
// @Produce json
// @Security BearerAuth
// @Param action query string false "动作"
// @Param file_id query int false "涉及的文件 ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response "审计日志列表"
// @Failure 401 {object} xerr.Response "未登录"
// @Router /api/v1/audit/my-activity [get]
func (h *AuditHandler) ListMyActivity(c *gin.Context) {
	filter, ok := auditFilterFromQuery(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	logs, total, err := h.queryService.ListMine(c.Request.Context(), utils.GetPrincipal(c), filter, page, pageSize)
	if err != nil {
		writeError(c, "ListMyActivity", err)
		return
	}
	writeAuditLogs(c, logs, total)
}

// FileHistory
// @Summary 文件审计历史（管理员）
// @Description 文件本身、授权和分享链接相关的全部事件
// @Tags 审计
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response "审计日志列表"
// @Failure 403 {object} xerr.Response "需要管理员权限"
// @Router /api/v1/audit/file/{file_id} [get]
func (h *AuditHandler) FileHistory(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	logs, total, err := h.queryService.FileHistory(c.Request.Context(), fileID, page, pageSize)
	if err != nil {
		writeError(c, "FileHistory", err)
		return
	}
	writeAuditLogs(c, logs, total)
}
