package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode            = errors.New("decode image")
	ErrEncode            = errors.New("encode image")
	ErrDimensionMismatch = errors.New("mask and image dimensions differ")
)

// OutputSuffix 导出文件名的固定后缀
const OutputSuffix = "-bg-removed"

// Decode 解码任意已注册格式，空图片视为解码失败
func Decode(r io.Reader) (*Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out := FromImage(img)
	if out.Empty() {
		return nil, format, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	return out, format, nil
}

func DecodeBytes(data []byte) (*Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: no data", ErrDecode)
	}
	return Decode(bytes.NewReader(data))
}

// EncodePNG 导出 PNG
func EncodePNG(img *Image) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrEncode)
	}
	if len(img.Pix) != img.Width*img.Height*4 {
		return nil, fmt.Errorf("%w: buffer holds %d bytes, want %d", ErrEncode, len(img.Pix), img.Width*img.Height*4)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img.NRGBA()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// OutputName 取原文件名第一个 "." 之前的部分加后缀
// "cat.photo.jpg" → "cat-bg-removed.png"
func OutputName(original string) string {
	base := filepath.Base(original)
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if base == "" || base == "/" {
		base = "image"
	}
	return base + OutputSuffix + ".png"
}
