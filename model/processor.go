package model

import (
	"context"
	"fmt"

	"github.com/nfnt/resize"

	"github.com/chaos-io/flagmatte/raster"
)

const (
	// MODNet 的输入分辨率与归一化参数
	DefaultInputSize = 512
	DefaultMean      = 0.5
	DefaultStd       = 0.5
)

// ProcessorConfig 预处理参数
type ProcessorConfig struct {
	Width  int        `yaml:"width"`
	Height int        `yaml:"height"`
	Mean   [3]float32 `yaml:"mean"`
	Std    [3]float32 `yaml:"std"`
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Width:  DefaultInputSize,
		Height: DefaultInputSize,
		Mean:   [3]float32{DefaultMean, DefaultMean, DefaultMean},
		Std:    [3]float32{DefaultStd, DefaultStd, DefaultStd},
	}
}

// ImageProcessor 缩放到模型分辨率，按通道归一化为 NCHW
type ImageProcessor struct {
	cfg ProcessorConfig
}

func NewImageProcessor(cfg ProcessorConfig) (*ImageProcessor, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid processor size %dx%d", cfg.Width, cfg.Height)
	}
	for i, s := range cfg.Std {
		if s == 0 {
			return nil, fmt.Errorf("std[%d] is zero", i)
		}
	}
	return &ImageProcessor{cfg: cfg}, nil
}

func (p *ImageProcessor) Config() ProcessorConfig {
	return p.cfg
}

func (p *ImageProcessor) Process(ctx context.Context, img *raster.Image) (*Tensor, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", raster.ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := p.cfg.Width, p.cfg.Height
	resized := raster.FromImage(resize.Resize(uint(w), uint(h), img.NRGBA(), resize.Bilinear))

	plane := w * h
	data := make([]float32, plane*3)
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			v := float32(resized.Pix[i*4+c]) / 255.0
			data[c*plane+i] = (v - p.cfg.Mean[c]) / p.cfg.Std[c]
		}
	}

	return NewTensor([]int64{1, 3, int64(h), int64(w)}, data)
}
