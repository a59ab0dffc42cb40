// Package sharetoken 生成与校验分享链接使用的不透明令牌。
// 令牌本身不携带任何信息，所有权限都存放在对应的 share_grants 记录里。
package sharetoken

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// ByteLength 随机字节数，256 bit 熵
	ByteLength = 32
	// Length 编码后的长度 (base64 raw url)
	Length = 43
)

var ErrMalformed = errors.New("malformed share token")

var encoding = base64.RawURLEncoding

// Mint 生成一个新的分享令牌
func Mint() (string, error) {
	return MintFrom(rand.Reader)
}

// MintFrom 使用指定的随机源生成令牌
func MintFrom(r io.Reader) (string, error) {
	buf := make([]byte, ByteLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return encoding.EncodeToString(buf), nil
}

// Parse 校验令牌的长度与字符集，不访问存储
func Parse(raw string) (string, error) {
	if len(raw) != Length {
		return "", ErrMalformed
	}
	for i := 0; i < len(raw); i++ {
		if !validChar(raw[i]) {
			return "", ErrMalformed
		}
	}
	// 最后一个字符只携带 4 bit 有效数据，非规范编码同样拒绝
	b, err := encoding.Strict().DecodeString(raw)
	if err != nil || len(b) != ByteLength {
		return "", ErrMalformed
	}
	return raw, nil
}

func validChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
