// Package media 把客户端以 data URL 上传的图片与语音保存到本地目录。
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	Image Kind = "image"
	Audio Kind = "audio"
)

// MaxBytes 是单个附件解码后的上限。
const MaxBytes = 10 << 20

var (
	ErrInvalidData = errors.New("media: invalid data url")
	ErrTooLarge    = errors.New("media: attachment too large")
	ErrKind        = errors.New("media: mime type does not match kind")
)

var extRe = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

var dirs = map[Kind]string{
	Image: "chat_images",
	Audio: "chat_audio",
}

// Store 保存附件并返回可以放进消息里的 URL。
type Store interface {
	Save(kind Kind, dataURL string) (string, error)
}

// DiskStore 以 uuid 命名文件，保存在 root/<kind 目录> 下。
type DiskStore struct {
	root    string
	baseURL string
}

func NewDiskStore(root, baseURL string) *DiskStore {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DiskStore{root: root, baseURL: baseURL}
}

// Decode 解析 data:<mime>;base64,<data>，返回 mime 与内容。
func Decode(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrInvalidData
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidData
	}
	header, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, ErrInvalidData
	}
	// 去掉 codecs 之类的参数
	mimeType, _, _ := strings.Cut(header, ";")
	if !strings.Contains(mimeType, "/") {
		return "", nil, ErrInvalidData
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxBytes+3 {
		return "", nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if len(data) == 0 {
		return "", nil, ErrInvalidData
	}
	if len(data) > MaxBytes {
		return "", nil, ErrTooLarge
	}
	return mimeType, data, nil
}

func (d *DiskStore) Save(kind Kind, dataURL string) (string, error) {
	dir, ok := dirs[kind]
	if !ok {
		return "", fmt.Errorf("media: unknown kind %q", kind)
	}
	mimeType, data, err := Decode(dataURL)
	if err != nil {
		return "", err
	}
	major, ext, _ := strings.Cut(strings.ToLower(mimeType), "/")
	if major != string(kind) {
		return "", ErrKind
	}
	if ext == "jpeg" {
		ext = "jpg"
	}
	if !extRe.MatchString(ext) {
		return "", ErrInvalidData
	}

	name := uuid.NewString() + "." + ext
	full := filepath.Join(d.root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("media: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(full, name), data, 0o644); err != nil {
		return "", fmt.Errorf("media: write: %w", err)
	}
	return d.baseURL + dir + "/" + name, nil
}
