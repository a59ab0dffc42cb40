package explorer

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
)

const maxFileNameBytes = 255

// normalizeFileName 去掉客户端传来的路径部分，拒绝空名、控制字符和过长的文件名
func normalizeFileName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", xerr.ErrFileNameInvalid
	}
	if len(name) > maxFileNameBytes || !utf8.ValidString(name) {
		return "", xerr.ErrFileNameInvalid
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", xerr.ErrFileNameInvalid
		}
	}
	return name, nil
}

// detectMimeType 优先使用客户端声明的类型，缺失或为通用二进制时按扩展名推断
func detectMimeType(fileName, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(fileName)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// ensureAvailable 文件必须处于正常状态并且有对象存储位置
func ensureAvailable(file *models.File) error {
	if !file.Available() {
		return xerr.ErrFileStatusInvalid
	}
	return nil
}
