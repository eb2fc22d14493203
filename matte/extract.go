// Package matte 调用外部模型得到 alpha 掩码，并串起抠图与合成流程
package matte

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaos-io/flagmatte/model"
	"github.com/chaos-io/flagmatte/raster"
)

// Extractor 从图片得到与原图同尺寸的掩码
type Extractor struct {
	loader *Loader
	interp raster.Interpolation
}

func NewExtractor(loader *Loader, interp raster.Interpolation) *Extractor {
	return &Extractor{loader: loader, interp: interp}
}

func (e *Extractor) Loader() *Loader {
	return e.loader
}

// Extract 预处理与推理交给外部模型，这里只负责把输出变成原图尺寸的掩码
func (e *Extractor) Extract(ctx context.Context, img *raster.Image) (*raster.Mask, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", raster.ErrDecode)
	}

	h, err := e.loader.Get(ctx)
	if err != nil {
		return nil, err
	}

	input, err := h.Processor.Process(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	outputs, err := h.Model.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	if len(outputs) == 0 || outputs[0] == nil {
		return nil, errors.New("inference: model returned no output")
	}

	native, err := model.ToMask(outputs[0])
	if err != nil {
		return nil, fmt.Errorf("read model output: %w", err)
	}

	slog.Debug("resample mask",
		"from", fmt.Sprintf("%dx%d", native.Width, native.Height),
		"to", fmt.Sprintf("%dx%d", img.Width, img.Height),
		"interp", e.interp.String())

	return native.Resize(img.Width, img.Height, e.interp), nil
}
