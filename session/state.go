package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrState    = errors.New("operation not allowed in current state")
)

// State 单次上传的状态
//
//	Idle → Uploaded → Matting → Matted → (Composited)
//
// 任意状态重新上传都回到 Uploaded；Matting 失败回到 Idle
type State int

const (
	Idle State = iota
	Uploaded
	Matting
	Matted
	Composited
)

var stateNames = [...]string{"idle", "uploaded", "matting", "matted", "composited"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Done 流程已结束
func (s State) Done() bool {
	return s == Idle || s == Matted || s == Composited
}

// View 会话的只读快照
type View struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Filename   string    `json:"filename,omitempty"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Country    string    `json:"country,omitempty"`
	Error      string    `json:"error,omitempty"`
	Updated    time.Time `json:"updated"`
}
