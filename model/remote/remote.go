// Package remote 通过 HTTP 调用远端推理服务（KServe v2 协议）
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chaos-io/flagmatte/model"
	nhttp "github.com/chaos-io/flagmatte/util/http"
)

/*
	curl "$BASE_URL/v2/models/modnet/ready"

	curl -X POST "$BASE_URL/v2/models/modnet/infer" \
	  -H "Content-Type: application/json" \
	  -d '{"inputs":[{"name":"input","shape":[1,3,512,512],"datatype":"FP32","data":[...]}]}'
*/

const datatypeFP32 = "FP32"

type Config struct {
	BaseURL   string        `yaml:"base_url"`
	InputName string        `yaml:"input_name"`
	Timeout   time.Duration `yaml:"timeout"`

	Processor model.ProcessorConfig `yaml:"processor"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://127.0.0.1:8000/",
		InputName: "input",
		Timeout:   60 * time.Second,
		Processor: model.DefaultProcessorConfig(),
	}
}

type Backend struct {
	cfg Config
	cli nhttp.IClient
}

func NewBackend(cfg Config, cli nhttp.IClient) *Backend {
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	return &Backend{cfg: cfg, cli: cli}
}

func (b *Backend) modelURL(id, action string) string {
	base := strings.TrimRight(b.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/v2/models/%s/%s", base, url.PathEscape(id), action)
}

// LoadModel 只检查远端模型是否就绪
func (b *Backend) LoadModel(ctx context.Context, id string) (model.Model, error) {
	reqParam := &nhttp.RequestParam{
		RequestURI: b.modelURL(id, "ready"),
		Method:     "GET",
		Timeout:    b.cfg.Timeout,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("model %s not ready: %w", id, err)
	}
	return &Model{id: id, backend: b}, nil
}

func (b *Backend) LoadProcessor(ctx context.Context, id string) (model.Processor, error) {
	return model.NewImageProcessor(b.cfg.Processor)
}

type inferTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type inferRequest struct {
	Inputs []inferTensor `json:"inputs"`
}

type inferResponse struct {
	ModelName string        `json:"model_name"`
	Outputs   []inferTensor `json:"outputs"`
}

type Model struct {
	id      string
	backend *Backend
}

func (m *Model) Run(ctx context.Context, input *model.Tensor) ([]*model.Tensor, error) {
	resp := &inferResponse{}
	reqParam := &nhttp.RequestParam{
		RequestURI: m.backend.modelURL(m.id, "infer"),
		Method:     "POST",
		Header:     map[string]string{"Content-Type": "application/json"},
		Body: inferRequest{Inputs: []inferTensor{{
			Name:     m.backend.cfg.InputName,
			Shape:    input.Shape,
			Datatype: datatypeFP32,
			Data:     input.Data,
		}}},
		Response: resp,
		Timeout:  m.backend.cfg.Timeout,
	}
	if err := m.backend.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	slog.Debug("get the infer response", "model", resp.ModelName, "outputs", len(resp.Outputs))

	outputs := make([]*model.Tensor, 0, len(resp.Outputs))
	for _, o := range resp.Outputs {
		if o.Datatype != "" && o.Datatype != datatypeFP32 {
			return nil, fmt.Errorf("output %s has datatype %s, want %s", o.Name, o.Datatype, datatypeFP32)
		}
		t, err := model.NewTensor(o.Shape, o.Data)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		outputs = append(outputs, t)
	}
	return outputs, nil
}
