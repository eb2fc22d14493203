package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image 行优先的 RGBA 像素缓冲（非预乘 alpha）
// 解码后只读，所有变换都返回新的 Image
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

func New(width, height int) *Image {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// FromImage 把任意 image.Image 转为 Image，坐标原点移到 (0,0)
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	dst := New(b.Dx(), b.Dy())
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Stride == b.Dx()*4 && b.Min == (image.Point{}) {
		copy(dst.Pix, nrgba.Pix)
		return dst
	}
	draw.Draw(dst.NRGBA(), image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
	return dst
}

func (m *Image) Empty() bool {
	return m == nil || m.Width <= 0 || m.Height <= 0
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) offset(x, y int) int {
	return (y*m.Width + x) * 4
}

func (m *Image) inside(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

func (m *Image) At(x, y int) color.NRGBA {
	if !m.inside(x, y) {
		return color.NRGBA{}
	}
	i := m.offset(x, y)
	return color.NRGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: m.Pix[i+3]}
}

func (m *Image) Set(x, y int, c color.NRGBA) {
	if !m.inside(x, y) {
		return
	}
	i := m.offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3] = c.R, c.G, c.B, c.A
}

// Alpha 第 i 个像素的 alpha
func (m *Image) Alpha(i int) uint8 {
	return m.Pix[i*4+3]
}

func (m *Image) Clone() *Image {
	dst := &Image{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(dst.Pix, m.Pix)
	return dst
}

// NRGBA 共享底层像素的视图，调用方不得修改
func (m *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    m.Pix,
		Stride: m.Width * 4,
		Rect:   m.Bounds(),
	}
}

// Opaque 是否所有像素 alpha 都为 255
func (m *Image) Opaque() bool {
	for i := 3; i < len(m.Pix); i += 4 {
		if m.Pix[i] != 255 {
			return false
		}
	}
	return true
}

// Resize 拉伸到 width × height（不裁剪）
func (m *Image) Resize(width, height int, interp Interpolation) *Image {
	if width == m.Width && height == m.Height {
		return m.Clone()
	}
	dst := New(width, height)
	interp.scaler().Scale(dst.NRGBA(), dst.Bounds(), m.NRGBA(), m.Bounds(), draw.Src, nil)
	return dst
}
