package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/flagmatte/background"
	"github.com/chaos-io/flagmatte/matte"
	"github.com/chaos-io/flagmatte/raster"
	"github.com/chaos-io/flagmatte/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

type backgroundRequest struct {
	Country string `json:"country" binding:"required"`
}

type healthResponse struct {
	Model string `json:"model"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrState):
		return http.StatusConflict
	case errors.Is(err, raster.ErrDecode), errors.Is(err, background.ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, raster.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, matte.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, background.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), errorResponse{Error: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	loader := s.pipeline.Extractor().Loader()
	state, err := loader.State()
	resp := healthResponse{Model: loader.ModelID(), State: state.String()}
	if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if state == matte.Failed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// readUpload 读取 multipart 中的 image 字段
func (s *Server) readUpload(c *gin.Context) (string, []byte, error) {
	limit := s.cfg.Server.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	fh, err := c.FormFile("image")
	if err != nil {
		return "", nil, fmt.Errorf("%w: missing image field: %v", raster.ErrDecode, err)
	}
	if fh.Size > limit {
		return "", nil, fmt.Errorf("%w: image is %d bytes, limit %d", raster.ErrDecode, fh.Size, limit)
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return fh.Filename, data, nil
}

func (s *Server) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, s.sessions.Create())
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		v, err := s.sessions.Wait(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
		return
	}

	v, err := s.sessions.Snapshot(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) uploadImage(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.sessions.Snapshot(id); err != nil {
		abortWithError(c, err)
		return
	}

	name, data, err := s.readUpload(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	v, err := s.sessions.Upload(c.Request.Context(), id, name, data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, v)
}

func (s *Server) selectBackground(c *gin.Context) {
	var req backgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	country, err := background.NormalizeCode(req.Country)
	if err != nil {
		abortWithError(c, err)
		return
	}

	v, err := s.sessions.SelectBackground(c.Request.Context(), c.Param("id"), country)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) download(c *gin.Context) {
	data, name, err := s.sessions.Download(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	sendPNG(c, name, data)
}

// matteOnce 一次性接口：上传图片，可选 country，直接返回 PNG
func (s *Server) matteOnce(c *gin.Context) {
	name, data, err := s.readUpload(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	img, _, err := raster.DecodeBytes(data)
	if err != nil {
		abortWithError(c, err)
		return
	}

	var fetch matte.FetchFunc
	if country := c.PostForm("country"); country != "" {
		code, err := background.NormalizeCode(country)
		if err != nil {
			abortWithError(c, err)
			return
		}
		fetch = func(ctx context.Context) (*raster.Image, error) {
			return s.backgrounds.Fetch(ctx, code)
		}
	}

	res, err := s.pipeline.RunWithBackground(c.Request.Context(), img, fetch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out, err := raster.EncodePNG(res.Final())
	if err != nil {
		abortWithError(c, err)
		return
	}
	sendPNG(c, raster.OutputName(name), out)
}

func sendPNG(c *gin.Context, name string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "image/png", data)
}
