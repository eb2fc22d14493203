package model

import (
	"github.com/chewxy/math32"

	"github.com/chaos-io/flagmatte/raster"
)

// ToMask 把 [0,1] 的输出平面放大到 [0,255]，越界值截断
func ToMask(t *Tensor) (*raster.Mask, error) {
	w, h, err := t.Plane()
	if err != nil {
		return nil, err
	}
	m := raster.NewMask(w, h)
	for i := range m.Pix {
		v := math32.Round(t.Data[i] * 255)
		switch {
		case math32.IsNaN(v) || v <= 0:
			m.Pix[i] = 0
		case v >= 255:
			m.Pix[i] = 255
		default:
			m.Pix[i] = uint8(v)
		}
	}
	return m, nil
}
