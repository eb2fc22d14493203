package matte

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaos-io/flagmatte/model"
)

var ErrModelUnavailable = errors.New("model unavailable")

type LoaderState int

const (
	Uninitialized LoaderState = iota
	Initializing
	Ready
	Failed
)

func (s LoaderState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Handles 加载完成的模型与预处理器
type Handles struct {
	Model     model.Model
	Processor model.Processor
}

// initAttempt 一次初始化，done 关闭后 handles/err 只读
type initAttempt struct {
	done    chan struct{}
	handles *Handles
	err     error
}

// Loader 进程级的模型句柄：首次需要时加载，成功后一直复用。
// 并发调用等待同一次进行中的加载；失败会通知该次的所有等待者，下一次 Get 重新加载。
type Loader struct {
	backend model.Backend
	modelID string

	mu      sync.Mutex
	state   LoaderState
	current *initAttempt
	lastErr error
}

func NewLoader(backend model.Backend, modelID string) *Loader {
	return &Loader{backend: backend, modelID: modelID}
}

func (l *Loader) ModelID() string {
	return l.modelID
}

// State 不阻塞
func (l *Loader) State() (LoaderState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.lastErr
}

// Get 返回模型句柄，必要时等待初始化完成
func (l *Loader) Get(ctx context.Context) (*Handles, error) {
	l.mu.Lock()
	attempt := l.current
	if attempt == nil || l.state == Failed {
		attempt = &initAttempt{done: make(chan struct{})}
		l.current = attempt
		l.state = Initializing
		go l.initialize(attempt)
	}
	l.mu.Unlock()

	select {
	case <-attempt.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrModelUnavailable, l.modelID, ctx.Err())
	}
	if attempt.err != nil {
		return nil, attempt.err
	}
	return attempt.handles, nil
}

// Warmup 提前加载，服务启动时使用
func (l *Loader) Warmup(ctx context.Context) error {
	_, err := l.Get(ctx)
	return err
}

// initialize 不使用调用方的 ctx，避免第一个调用方取消后其他等待者一起失败
func (l *Loader) initialize(attempt *initAttempt) {
	ctx := context.Background()
	slog.Info("loading matting model", "model", l.modelID)

	handles, err := l.load(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrModelUnavailable, l.modelID, err)
		slog.Error("load matting model failed", "model", l.modelID, "error", err)
	} else {
		slog.Info("matting model ready", "model", l.modelID)
	}

	l.mu.Lock()
	attempt.handles, attempt.err = handles, err
	if err != nil {
		l.state = Failed
	} else {
		l.state = Ready
	}
	l.lastErr = err
	l.mu.Unlock()

	close(attempt.done)
}

func (l *Loader) load(ctx context.Context) (*Handles, error) {
	if l.backend == nil {
		return nil, errors.New("no model backend configured")
	}
	m, err := l.backend.LoadModel(ctx, l.modelID)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	p, err := l.backend.LoadProcessor(ctx, l.modelID)
	if err != nil {
		return nil, fmt.Errorf("load processor: %w", err)
	}
	return &Handles{Model: m, Processor: p}, nil
}
