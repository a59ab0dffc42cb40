package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"github.com/gin-gonic/gin"
)

type ShareHandler struct {
	shareService share.ShareService
}

func NewShareHandler(shareService share.ShareService) *ShareHandler {
	return &ShareHandler{shareService: shareService}
}

type CreateShareRequest struct {
	FileID           uint64  `json:"file_id" binding:"required"`
	ExpiresInMinutes *int    `json:"expires_in_minutes"` // 以分钟为单位，缺省使用配置的默认值
	MaxDownloads     *int64  `json:"max_downloads"`
	Password         *string `json:"password"`
	RequiresAuth     bool    `json:"requires_auth"`
	AllowedPrincipal *string `json:"allowed_principal"` // 邮箱或用户 ID
}

type ShareDownloadRequest struct {
	Password *string `json:"password"`
}

// ShareResponse 创建分享链接的返回体
type ShareResponse struct {
	ID               uint64    `json:"id"`
	Token            string    `json:"token"`
	ShareURL         string    `json:"share_url"`
	FileID           uint64    `json:"file_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	MaxDownloads     *int64    `json:"max_downloads"`
	RequiresAuth     bool      `json:"requires_auth"`
	AllowedPrincipal *string   `json:"allowed_principal,omitempty"`
	HasPassword      bool      `json:"has_password"`
	CreatedAt        time.Time `json:"created_at"`
}

// ShareListItem 我的分享列表中的一项
type ShareListItem struct {
	ID            uint64    `json:"id"`
	Token         string    `json:"token"`
	FileID        uint64    `json:"file_id"`
	FileName      string    `json:"filename"`
	Status        string    `json:"status"`
	IsActive      bool      `json:"is_active"`
	ExpiresAt     time.Time `json:"expires_at"`
	MaxDownloads  *int64    `json:"max_downloads"`
	DownloadCount int64     `json:"download_count"`
	RequiresAuth  bool      `json:"requires_auth"`
	HasPassword   bool      `json:"has_password"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateShare handles creation of a new share link.
// @Summary 创建分享链接
// @Description 为文件创建分享链接，可设置有效期、下载次数、密码、登录要求和指定用户
// @Tags 分享
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateShareRequest true "分享链接信息"
// @Success 201 {object} xerr.Response{data=ShareResponse} "分享链接创建成功"
// @Failure 400 {object} xerr.Response "参数校验失败，data.reasons 列出全部原因"
// @Failure 403 {object} xerr.Response "无权分享"
// @Failure 404 {object} xerr.Response "文件未找到"
// @Router /api/v1/shares [post]
func (h *ShareHandler) CreateShare(c *gin.Context) {
	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}

	res, err := h.shareService.CreateShare(c.Request.Context(), p, share.CreateRequest{
		FileID:           req.FileID,
		ExpiresInMinutes: req.ExpiresInMinutes,
		MaxDownloads:     req.MaxDownloads,
		Password:         req.Password,
		RequiresAuth:     req.RequiresAuth,
		AllowedPrincipal: req.AllowedPrincipal,
	})
	if err != nil {
		writeError(c, "CreateShare", err)
		return
	}

	g := res.Grant
	xerr.Success(c, http.StatusCreated, "分享链接创建成功", ShareResponse{
		ID:               g.ID,
		Token:            g.Token,
		ShareURL:         res.ShareURL,
		FileID:           g.FileID,
		ExpiresAt:        g.ExpiresAt,
		ExpiresInMinutes: res.ExpiresInMinutes,
		MaxDownloads:     g.MaxDownloads,
		RequiresAuth:     g.RequiresAuth,
		AllowedPrincipal: g.AllowedPrincipal,
		HasPassword:      g.HasPassword(),
		CreatedAt:        g.CreatedAt,
	})
}

// GetShareInfo
// @Summary 分享链接信息
// @Description 匿名查询分享链接对应的文件名、大小以及是否需要密码或登录。任何不可用的链接都返回 404
// @Tags 分享
// @Produce json
// @Param token path string true "分享 token"
// @Success 200 {object} xerr.Response "分享链接信息"
// @Failure 404 {object} xerr.Response "分享链接不存在或已失效"
// @Router /share/{token}/info [get]
func (h *ShareHandler) GetShareInfo(c *gin.Context) {
	info, err := h.shareService.GetInfo(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, "GetShareInfo", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取分享信息成功", gin.H{
		"filename":      info.FileName,
		"size":          info.Size,
		"has_password":  info.HasPassword,
		"requires_auth": info.RequiresAuth,
	})
}

// DownloadShared
// @Summary 通过分享链接下载
// @Description 兑换分享链接并以附件形式返回文件。受密码保护的链接需用 POST 在 JSON 请求体中提交密码，查询参数中的密码会被拒绝。登录用户可携带 Bearer Token
// @Tags 分享
// @Accept json
// @Produce octet-stream
// @Param token path string true "分享 token"
// @Param request body ShareDownloadRequest false "分享密码 (POST)"
// @Success 200 {file} file "文件内容"
// @Failure 401 {object} xerr.Response "需要登录或需要密码"
// @Failure 403 {object} xerr.Response "密码错误或非指定用户"
// @Failure 404 {object} xerr.Response "分享链接不存在或已失效"
// @Failure 503 {object} xerr.Response "服务繁忙或存储不可用，可重试"
// @Router /share/{token}/download [get]
// @Router /share/{token}/download [post]
func (h *ShareHandler) DownloadShared(c *gin.Context) {
	// URL 会进入代理和访问日志，密码只接受请求体
	if _, ok := c.GetQuery("password"); ok {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "密码必须通过 POST 请求体提交")
		return
	}
	in := share.RedeemInput{Principal: utils.GetPrincipal(c)}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var req ShareDownloadRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
			return
		}
		if req.Password != nil && *req.Password != "" {
			in.Password = req.Password
		}
	}

	dl, err := h.shareService.Redeem(c.Request.Context(), c.Param("token"), in)
	if err != nil {
		writeError(c, "DownloadShared", err)
		return
	}
	defer dl.Reader.Close()

	c.Header("Cache-Control", "no-store")
	streamAttachment(c, dl.FileName, dl.MimeType, dl.Size, dl.Reader)
}

// ListUserShares handles listing all share links created by the authenticated user.
// @Summary 列出用户创建的分享链接
// @Description 列出当前用户创建的所有分享链接，包括已过期、已撤销和次数已用完的
// @Tags 分享
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response{data=[]ShareListItem} "分享链接列表"
// @Router /api/v1/shares/my [get]
func (h *ShareHandler) ListUserShares(c *gin.Context) {
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	views, total, err := h.shareService.ListMine(c.Request.Context(), p, page, pageSize)
	if err != nil {
		writeError(c, "ListUserShares", err)
		return
	}
	items := make([]ShareListItem, 0, len(views))
	for _, v := range views {
		items = append(items, ShareListItem{
			ID:            v.Grant.ID,
			Token:         v.Grant.Token,
			FileID:        v.Grant.FileID,
			FileName:      v.FileName,
			Status:        v.Status,
			IsActive:      v.Grant.IsActive,
			ExpiresAt:     v.Grant.ExpiresAt,
			MaxDownloads:  v.Grant.MaxDownloads,
			DownloadCount: v.Grant.DownloadCount,
			RequiresAuth:  v.Grant.RequiresAuth,
			HasPassword:   v.Grant.HasPassword(),
			CreatedAt:     v.Grant.CreatedAt,
		})
	}
	xerr.Success(c, http.StatusOK, "获取分享列表成功", gin.H{
		"shares": items,
		"total":  total,
	})
}

// RevokeShare handles revoking a share link.
// @Summary 撤销分享链接
// @Description 根据分享 ID 撤销分享链接，所有者或管理员可操作，重复撤销视为成功
// @Tags 分享
// @Security BearerAuth
// @Param share_id path int true "分享链接 ID"
// @Success 204 "分享链接撤销成功"
// @Failure 403 {object} xerr.Response "无权操作"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Router /api/v1/shares/{share_id} [delete]
func (h *ShareHandler) RevokeShare(c *gin.Context) {
	shareID, ok := paramUint64(c, "share_id")
	if !ok {
		return
	}
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	if _, err := h.shareService.RevokeByID(c.Request.Context(), p, shareID); err != nil {
		writeError(c, "RevokeShare", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeShareByToken
// @Summary 通过 token 撤销分享链接
// @Tags 分享
// @Security BearerAuth
// @Param token path string true "分享 token"
// @Success 204 "分享链接撤销成功"
// @Failure 403 {object} xerr.Response "无权操作"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Router /api/v1/shares/token/{token} [delete]
func (h *ShareHandler) RevokeShareByToken(c *gin.Context) {
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if _, err := h.shareService.RevokeByToken(c.Request.Context(), p, token); err != nil {
		writeError(c, "RevokeShareByToken", err)
		return
	}
	c.Status(http.StatusNoContent)
}
