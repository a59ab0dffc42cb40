package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/explorer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FileHandler struct {
	fileService explorer.FileService
	cfg         *config.Config
}

func NewFileHandler(fileService explorer.FileService, cfg *config.Config) *FileHandler {
	return &FileHandler{fileService: fileService, cfg: cfg}
}

type GrantPermissionRequest struct {
	PrincipalID uint64 `json:"principal_id"`
	Email       string `json:"email" binding:"omitempty,email"`
	CanDownload bool   `json:"can_download"`
	CanShare    bool   `json:"can_share"`
	Revocable   *bool  `json:"revocable"`
}

// streamAttachment 以附件形式输出文件流
func streamAttachment(c *gin.Context, fileName, mimeType string, size int64, reader io.Reader) {
	encodedFileName := url.PathEscape(fileName)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, encodedFileName, encodedFileName))
	c.Header("Content-Type", mimeType)
	c.Header("X-Content-Type-Options", "nosniff")
	if size > 0 {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		logger.Warn("streamAttachment: client stream interrupted", zap.String("file", fileName), zap.Error(err))
	}
}

// UploadFile
// @Summary 上传文件
// @Description 以 multipart/form-data 上传单个文件，字段名为 file
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "文件内容"
// @Success 201 {object} xerr.Response "上传成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 403 {object} xerr.Response "只读用户不能上传"
// @Failure 413 {object} xerr.Response "文件过大"
// @Router /api/v1/files/upload [post]
func (h *FileHandler) UploadFile(c *gin.Context) {
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	if limit := h.cfg.Storage.MaxFileSizeMB; limit > 0 {
		// 预留 1MB 给 multipart 头部
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, (limit+1)*1024*1024)
	}

	header, err := c.FormFile("file")
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "获取上传文件失败: "+err.Error())
		return
	}
	src, err := header.Open()
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "读取上传文件失败")
		return
	}
	defer src.Close()

	file, err := h.fileService.Upload(c.Request.Context(), p, explorer.UploadInput{
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Reader:   src,
	})
	if err != nil {
		writeError(c, "UploadFile", err)
		return
	}
	xerr.Success(c, http.StatusCreated, "文件上传成功", file)
}

// ListUserFiles
// @Summary 我的文件
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} xerr.Response "文件列表"
// @Router /api/v1/files [get]
func (h *FileHandler) ListUserFiles(c *gin.Context) {
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)
	files, total, err := h.fileService.ListMine(c.Request.Context(), p, page, pageSize)
	if err != nil {
		writeError(c, "ListUserFiles", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取文件列表成功", gin.H{
		"files": files,
		"total": total,
	})
}

// ListSharedWithMe
// @Summary 共享给我的文件
// @Description 列出通过授权记录可以访问的他人文件
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Success 200 {object} xerr.Response "文件列表"
// @Router /api/v1/files/shared-with-me [get]
func (h *FileHandler) ListSharedWithMe(c *gin.Context) {
	p, ok := utils.MustPrincipal(c)
	if !ok {
		return
	}
	shared, err := h.fileService.ListSharedWithMe(c.Request.Context(), p)
	if err != nil {
		writeError(c, "ListSharedWithMe", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取共享文件成功", gin.H{"files": shared})
}

// GetFile
// @Summary 文件详情
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {object} xerr.Response "文件详情"
// @Failure 403 {object} xerr.Response "无权访问"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id} [get]
func (h *FileHandler) GetFile(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	file, err := h.fileService.Get(c.Request.Context(), utils.GetPrincipal(c), fileID)
	if err != nil {
		writeError(c, "GetFile", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取文件成功", file)
}

// DownloadFile
// @Summary 下载文件
// @Description 所有者、被授权下载的用户或管理员可以下载
// @Tags 文件
// @Produce octet-stream
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {file} file "文件内容"
// @Failure 403 {object} xerr.Response "无权下载"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Failure 503 {object} xerr.Response "存储服务暂不可用"
// @Router /api/v1/files/{file_id}/download [get]
func (h *FileHandler) DownloadFile(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	content, err := h.fileService.Download(c.Request.Context(), utils.GetPrincipal(c), fileID)
	if err != nil {
		writeError(c, "DownloadFile", err)
		return
	}
	defer content.Reader.Close()
	streamAttachment(c, content.File.FileName, content.MimeType, content.Size, content.Reader)
}

// DeleteFile
// @Summary 删除文件
// @Description 所有者或管理员删除文件，文件的分享链接同时失效，对象存储异步清理
// @Tags 文件
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 204 "删除成功"
// @Failure 403 {object} xerr.Response "无权删除"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id} [delete]
func (h *FileHandler) DeleteFile(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	if err := h.fileService.Delete(c.Request.Context(), utils.GetPrincipal(c), fileID); err != nil {
		writeError(c, "DeleteFile", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantPermission
// @Summary 授权其他用户访问文件
// @Description 按用户 ID 或邮箱授权，已存在时更新能力位
// @Tags 文件授权
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param data body GrantPermissionRequest true "授权信息"
// @Success 200 {object} xerr.Response "授权成功"
// @Failure 400 {object} xerr.Response "参数错误"
// @Failure 403 {object} xerr.Response "无权管理"
// @Failure 404 {object} xerr.Response "文件或用户不存在"
// @Router /api/v1/files/{file_id}/permissions [post]
func (h *FileHandler) GrantPermission(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	var req GrantPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	perm, err := h.fileService.GrantPermission(c.Request.Context(), utils.GetPrincipal(c), fileID, explorer.GrantRequest{
		PrincipalID: req.PrincipalID,
		Email:       req.Email,
		CanDownload: req.CanDownload,
		CanShare:    req.CanShare,
		Revocable:   req.Revocable,
	})
	if err != nil {
		writeError(c, "GrantPermission", err)
		return
	}
	xerr.Success(c, http.StatusOK, "授权成功", perm)
}

// ListPermissions
// @Summary 文件授权列表
// @Tags 文件授权
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {object} xerr.Response "授权列表"
// @Failure 403 {object} xerr.Response "无权管理"
// @Router /api/v1/files/{file_id}/permissions [get]
func (h *FileHandler) ListPermissions(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	perms, err := h.fileService.ListPermissions(c.Request.Context(), utils.GetPrincipal(c), fileID)
	if err != nil {
		writeError(c, "ListPermissions", err)
		return
	}
	xerr.Success(c, http.StatusOK, "获取授权列表成功", gin.H{"permissions": perms})
}

// RevokePermission
// @Summary 收回文件授权
// @Tags 文件授权
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param user_id path int true "被授权用户 ID"
// @Success 204 "收回成功"
// @Failure 403 {object} xerr.Response "无权管理或授权不可撤销"
// @Failure 404 {object} xerr.Response "授权记录不存在"
// @Router /api/v1/files/{file_id}/permissions/{user_id} [delete]
func (h *FileHandler) RevokePermission(c *gin.Context) {
	fileID, ok := paramUint64(c, "file_id")
	if !ok {
		return
	}
	userID, ok := paramUint64(c, "user_id")
	if !ok {
		return
	}
	if err := h.fileService.RevokePermission(c.Request.Context(), utils.GetPrincipal(c), fileID, userID); err != nil {
		writeError(c, "RevokePermission", err)
		return
	}
	c.Status(http.StatusNoContent)
}
