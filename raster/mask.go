package raster

import (
	"image"

	"golang.org/x/image/draw"
)

// Mask 单通道不透明度，0 完全透明，255 完全不透明
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewMask(width, height int) *Mask {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// MaskFromGray 拷贝灰度图为 Mask
func MaskFromGray(g *image.Gray) *Mask {
	b := g.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		row := y * g.Stride
		copy(m.Pix[y*m.Width:(y+1)*m.Width], g.Pix[row:row+m.Width])
	}
	return m
}

func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Pix[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
}

func (m *Mask) Fill(v uint8) *Mask {
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

// Gray 共享底层像素的视图
func (m *Mask) Gray() *image.Gray {
	return &image.Gray{
		Pix:    m.Pix,
		Stride: m.Width,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

func (m *Mask) SameSize(img *Image) bool {
	return m.Width == img.Width && m.Height == img.Height
}

// Resize 从模型分辨率重采样到目标尺寸
func (m *Mask) Resize(width, height int, interp Interpolation) *Mask {
	dst := NewMask(width, height)
	if width == m.Width && height == m.Height {
		copy(dst.Pix, m.Pix)
		return dst
	}
	src := m.Gray()
	interp.scaler().Scale(dst.Gray(), dst.Gray().Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
