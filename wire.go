package main

import (
	"fmt"
	"io"

	"github.com/chaos-io/flagmatte/background"
	"github.com/chaos-io/flagmatte/config"
	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/model"
	"github.com/chaos-io/flagmatte/model/onnx"
	"github.com/chaos-io/flagmatte/model/remote"
	nhttp "github.com/chaos-io/flagmatte/util/http"
)

type app struct {
	pipeline    *matte.Pipeline
	backgrounds *background.Source
	closer      io.Closer
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func newBackend(cfg config.Model, cli nhttp.IClient) (model.Backend, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendONNX:
		b := onnx.NewBackend(cfg.ONNX)
		return b, b, nil
	case config.BackendRemote:
		return remote.NewBackend(cfg.Remote, cli), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}
}

// newApp 按配置组装 backend → Loader → Extractor → Pipeline
func newApp(cfg config.Config) (*app, error) {
	cli := nhttp.NewHTTPClient()
	backend, closer, err := newBackend(cfg.Model, cli)
	if err != nil {
		return nil, err
	}

	loader := matte.NewLoader(backend, cfg.Model.ID)
	extractor := matte.NewExtractor(loader, cfg.Compose.Interpolation)
	return &app{
		pipeline:    matte.NewPipeline(extractor, cfg.Compose),
		backgrounds: background.NewSource(cfg.Background, cli),
		closer:      closer,
	}, nil
}
