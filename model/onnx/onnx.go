// Package onnx 基于 ONNX Runtime 的本地抠图模型（MODNet 等）
package onnx

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/flagmatte/model"
)

// Config 本地推理配置
type Config struct {
	// LibraryPath onnxruntime 动态库 (.so / .dylib / .dll)
	LibraryPath string `yaml:"library_path"`
	// ModelDir 模型 id 映射到 ModelDir/<id>.onnx，"/" 替换为 "_"
	ModelDir string `yaml:"model_dir"`
	// Models 显式的 id → 路径，优先于 ModelDir
	Models     map[string]string `yaml:"models"`
	InputName  string            `yaml:"input_name"`
	OutputName string            `yaml:"output_name"`
	Threads    int               `yaml:"threads"`

	Processor model.ProcessorConfig `yaml:"processor"`
}

func DefaultConfig() Config {
	return Config{
		ModelDir:   "./models",
		InputName:  "input",
		OutputName: "output",
		Processor:  model.DefaultProcessorConfig(),
	}
}

type Backend struct {
	cfg Config

	envOnce sync.Once
	envErr  error

	mu       sync.Mutex
	sessions []*Session
}

func NewBackend(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// ModelPath 解析模型文件路径
func (b *Backend) ModelPath(id string) string {
	if p, ok := b.cfg.Models[id]; ok {
		return p
	}
	name := strings.ReplaceAll(id, "/", "_")
	if !strings.HasSuffix(name, ".onnx") {
		name += ".onnx"
	}
	return filepath.Join(b.cfg.ModelDir, name)
}

func (b *Backend) initEnvironment() error {
	b.envOnce.Do(func() {
		if b.cfg.LibraryPath != "" {
			if _, err := os.Stat(b.cfg.LibraryPath); err != nil {
				b.envErr = errors.Wrapf(err, "onnxruntime library not found at %s", b.cfg.LibraryPath)
				return
			}
			ort.SetSharedLibraryPath(b.cfg.LibraryPath)
		}
		if ort.IsInitialized() {
			return
		}
		b.envErr = errors.Wrap(ort.InitializeEnvironment(), "initialize onnxruntime environment")
	})
	return b.envErr
}

func (b *Backend) LoadModel(ctx context.Context, id string) (model.Model, error) {
	path := b.ModelPath(id)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "model file for %s", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.initEnvironment(); err != nil {
		return nil, err
	}

	s, err := newSession(path, b.cfg)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()

	slog.Info("onnx session created", "model", id, "path", path,
		"input", b.cfg.InputName, "output", b.cfg.OutputName)
	return s, nil
}

func (b *Backend) LoadProcessor(ctx context.Context, id string) (model.Processor, error) {
	return model.NewImageProcessor(b.cfg.Processor)
}

// Close 释放所有 session
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, s := range b.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.sessions = nil
	return firstErr
}

// Session 输入输出张量预先分配，Run 串行执行
type Session struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	inShape  []int64
	outShape []int64
}

func newSession(path string, cfg Config) (*Session, error) {
	h, w := int64(cfg.Processor.Height), int64(cfg.Processor.Width)
	inShape := ort.NewShape(1, 3, h, w)
	outShape := ort.NewShape(1, 1, h, w)

	input, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		_ = input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, errors.Wrap(err, "create session options")
	}
	defer func() {
		_ = options.Destroy()
	}()
	if cfg.Threads > 0 {
		_ = options.SetIntraOpNumThreads(cfg.Threads)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		return nil, errors.Wrap(err, "create onnx session")
	}

	return &Session{
		session:  session,
		input:    input,
		output:   output,
		inShape:  []int64(inShape),
		outShape: []int64(outShape),
	}, nil
}

func (s *Session) Run(ctx context.Context, input *model.Tensor) ([]*model.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("onnx session closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := s.input.GetData()
	if len(input.Data) != len(dst) {
		return nil, errors.Errorf("input tensor %v does not match model input %v", input.Shape, s.inShape)
	}
	copy(dst, input.Data)

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "run onnx session")
	}

	out := make([]float32, len(s.output.GetData()))
	copy(out, s.output.GetData())
	t, err := model.NewTensor(append([]int64(nil), s.outShape...), out)
	if err != nil {
		return nil, err
	}
	return []*model.Tensor{t}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	_ = s.input.Destroy()
	_ = s.output.Destroy()
	s.session = nil
	return err
}
