package raster

import (
	"fmt"
	"strings"

	"golang.org/x/image/draw"
)

type Interpolation int

const (
	Bilinear Interpolation = iota
	Nearest
	CatmullRom
)

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case CatmullRom:
		return "catmullrom"
	default:
		return "bilinear"
	}
}

func (i Interpolation) scaler() draw.Scaler {
	switch i {
	case Nearest:
		return draw.NearestNeighbor
	case CatmullRom:
		return draw.CatmullRom
	default:
		return draw.BiLinear
	}
}

// ParseInterpolation 空字符串返回默认的 Bilinear
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bilinear", "linear":
		return Bilinear, nil
	case "nearest", "nearest-neighbor":
		return Nearest, nil
	case "catmullrom", "catmull-rom", "bicubic":
		return CatmullRom, nil
	}
	return Bilinear, fmt.Errorf("unknown interpolation %q", s)
}

func (i *Interpolation) UnmarshalText(text []byte) error {
	v, err := ParseInterpolation(string(text))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

func (i Interpolation) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
