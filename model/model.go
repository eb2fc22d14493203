// Package model 外部抠图模型的接口定义
//
// 推理本身是黑盒：Processor 把图片变成模型输入张量，Model 执行推理。
package model

import (
	"context"
	"fmt"

	"github.com/chaos-io/flagmatte/raster"
)

// Tensor 稠密多维数组，只按平铺的 float32 序列读取
type Tensor struct {
	Shape []int64
	Data  []float32
}

func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid tensor shape %v", shape)
		}
		n *= d
	}
	if int64(len(data)) != n {
		return nil, fmt.Errorf("tensor shape %v needs %d values, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Plane 最后两维视为 H×W 平面
func (t *Tensor) Plane() (width, height int, err error) {
	if t == nil || len(t.Shape) < 2 {
		return 0, 0, fmt.Errorf("tensor needs at least 2 dims")
	}
	h := t.Shape[len(t.Shape)-2]
	w := t.Shape[len(t.Shape)-1]
	if h <= 0 || w <= 0 || int64(len(t.Data)) < h*w {
		return 0, 0, fmt.Errorf("tensor shape %v does not hold a %dx%d plane", t.Shape, w, h)
	}
	return int(w), int(h), nil
}

type Processor interface {
	Process(ctx context.Context, img *raster.Image) (*Tensor, error)
}

type Model interface {
	Run(ctx context.Context, input *Tensor) ([]*Tensor, error)
}

// Backend 按 id 加载模型与预处理器
type Backend interface {
	LoadModel(ctx context.Context, id string) (Model, error)
	LoadProcessor(ctx context.Context, id string) (Processor, error)
}
