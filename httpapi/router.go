// Package httpapi is the HTTP surface: multipart uploads in, PNG or artifact URLs out.
package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"AniObjCut/detect"
	"AniObjCut/logger"
	"AniObjCut/service"
	"AniObjCut/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	APIKey      string
	MaxUploadMB int
}

type handler struct {
	svc       *service.Service
	maxUpload int64
}

// genForm mirrors the form fields of every generation route. Missing fields take the defaults.
type genForm struct {
	Type        string  `form:"type"`
	Size        int     `form:"size,default=512" binding:"gte=32,lte=8192"`
	Padding     float64 `form:"padding,default=0.3" binding:"gte=0,lte=1"`
	Color       string  `form:"color,default=#FF0000"`
	StrokeWidth int     `form:"strokeWidth,default=4" binding:"gte=1,lte=32"`
	BlurRadius  float64 `form:"blurRadius,default=10" binding:"gte=0,lte=100"`
	WithMask    bool    `form:"withMask,default=false"`
}

func NewRouter(svc *service.Service, opts Options) *gin.Engine {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 50
	}
	h := &handler{svc: svc, maxUpload: int64(opts.MaxUploadMB) << 20}

	r := gin.New()
	r.MaxMultipartMemory = h.maxUpload
	r.Use(gin.Recovery(), accessLog(), cors())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/file/:id", h.file)

	api := r.Group("/", auth(opts.APIKey))
	api.POST("/cut/avatar", h.avatar)
	api.POST("/gen/square", h.square)
	api.POST("/gen/squares", h.squares)
	api.POST("/gen/mask", h.mask)
	api.POST("/gen/highlight", h.highlight)
	return r
}

func (h *handler) avatar(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	data, err := h.svc.Avatar(c.Request.Context(), req)
	h.sendPNG(c, "avatar.png", data, err)
}

func (h *handler) square(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	data, err := h.svc.Square(c.Request.Context(), req)
	h.sendPNG(c, "square.png", data, err)
}

func (h *handler) squares(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	outs, err := h.svc.Squares(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	urls := make([]string, 0, len(outs))
	for _, o := range outs {
		urls = append(urls, fileURL(c, o.ID))
	}
	c.JSON(http.StatusOK, gin.H{"data": urls})
}

func (h *handler) mask(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	data, err := h.svc.Mask(c.Request.Context(), req)
	h.sendPNG(c, "mask.png", data, err)
}

func (h *handler) highlight(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	data, err := h.svc.Highlight(c.Request.Context(), req)
	h.sendPNG(c, "highlight.png", data, err)
}

// file streams a stored artifact once; the artifact is gone afterwards.
func (h *handler) file(c *gin.Context) {
	data, err := h.svc.Take(c.Param("id"))
	if errors.Is(err, store.ErrMissing) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+c.Param("id")+`.png"`)
	c.Data(http.StatusOK, "image/png", data)
}

func (h *handler) bind(c *gin.Context) (service.Request, bool) {
	var form genForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return service.Request{}, false
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return service.Request{}, false
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return service.Request{}, false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return service.Request{}, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return service.Request{}, false
	}
	if int64(len(data)) > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return service.Request{}, false
	}
	return service.Request{
		Type:        form.Type,
		Image:       data,
		Filename:    fh.Filename,
		Size:        form.Size,
		Padding:     form.Padding,
		Color:       form.Color,
		StrokeWidth: form.StrokeWidth,
		BlurRadius:  form.BlurRadius,
		WithMask:    form.WithMask,
	}, true
}

func (h *handler) sendPNG(c *gin.Context, filename string, data []byte, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "image/png", data)
}

func respondError(c *gin.Context, err error) {
	switch detect.ErrorClass(err) {
	case detect.ClassConfiguration, detect.ClassInput:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case detect.ClassNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing detected"})
	case detect.ClassCanceled:
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request canceled"})
	default:
		logger.Log().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image processing error"})
	}
}

func fileURL(c *gin.Context, id string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	switch p := strings.ToLower(c.GetHeader("X-Forwarded-Proto")); p {
	case "http", "https":
		scheme = p
	}
	return fmt.Sprintf("%s://%s/file/%s", scheme, c.Request.Host, id)
}

func auth(apiKey string) gin.HandlerFunc {
	want := []byte("Bearer " + apiKey)
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader("Authorization")), want) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.Next()
	}
}

// cors allows every origin, like the service this replaces.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
