// Package compose 把掩码写入 alpha，并把抠好的图合成到背景上
package compose

import (
	"fmt"

	"github.com/chaos-io/flagmatte/raster"
)

// ApplyMatte 返回新图：alpha[i] = mask[i]，RGB 不变，输入不会被修改
func ApplyMatte(img *raster.Image, mask *raster.Mask) (*raster.Image, error) {
	if img == nil || mask == nil {
		return nil, fmt.Errorf("%w: missing image or mask", raster.ErrDimensionMismatch)
	}
	if !mask.SameSize(img) || len(mask.Pix) != img.Width*img.Height {
		return nil, fmt.Errorf("%w: image %dx%d, mask %dx%d",
			raster.ErrDimensionMismatch, img.Width, img.Height, mask.Width, mask.Height)
	}

	out := img.Clone()
	for i, a := range mask.Pix {
		out.Pix[i*4+3] = a
	}
	return out, nil
}

// Options 合成参数
type Options struct {
	Interpolation raster.Interpolation `yaml:"interpolation"`
}

// CompositeOverBackground 使用默认插值
func CompositeOverBackground(matted, background *raster.Image, targetWidth, targetHeight int) (*raster.Image, error) {
	return Options{}.CompositeOverBackground(matted, background, targetWidth, targetHeight)
}

// Composite 画布尺寸取抠图结果的尺寸
func (o Options) Composite(matted, background *raster.Image) (*raster.Image, error) {
	if matted.Empty() {
		return nil, fmt.Errorf("%w: empty foreground", raster.ErrEncode)
	}
	return o.CompositeOverBackground(matted, background, matted.Width, matted.Height)
}

// CompositeOverBackground 两张图都拉伸到目标尺寸；先画背景，再以 source-over 叠加前景
func (o Options) CompositeOverBackground(matted, background *raster.Image, targetWidth, targetHeight int) (*raster.Image, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, fmt.Errorf("%w: invalid canvas %dx%d", raster.ErrEncode, targetWidth, targetHeight)
	}
	if matted.Empty() {
		return nil, fmt.Errorf("%w: empty foreground", raster.ErrEncode)
	}
	if background.Empty() {
		return nil, fmt.Errorf("%w: empty background", raster.ErrEncode)
	}

	canvas := background.Resize(targetWidth, targetHeight, o.Interpolation)
	fg := matted
	if fg.Width != targetWidth || fg.Height != targetHeight {
		fg = matted.Resize(targetWidth, targetHeight, o.Interpolation)
	}

	if len(canvas.Pix) != len(fg.Pix) {
		return nil, fmt.Errorf("%w: canvas buffer %d bytes, foreground %d bytes", raster.ErrEncode, len(canvas.Pix), len(fg.Pix))
	}

	for i := 0; i < len(canvas.Pix); i += 4 {
		over(canvas.Pix[i:i+4:i+4], fg.Pix[i:i+4:i+4])
	}
	return canvas, nil
}

// over 非预乘的 source-over：
//
//	outA = fa + ba*(1-fa)
//	outC = (fc*fa + bc*ba*(1-fa)) / outA
//
// 背景不透明时即 outC = fc*fa + bc*(1-fa)
func over(dst, src []uint8) {
	fa := uint32(src[3])
	if fa == 0 {
		return
	}
	if fa == 255 {
		dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 255
		return
	}

	ba := uint32(dst[3])
	den := fa*255 + ba*(255-fa)
	for c := 0; c < 3; c++ {
		num := uint32(src[c])*fa*255 + uint32(dst[c])*ba*(255-fa)
		dst[c] = uint8((num + den/2) / den)
	}
	dst[3] = uint8((den + 127) / 255)
}
