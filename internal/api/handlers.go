package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
	"pdfhtmlgo/internal/publisher"
	"pdfhtmlgo/internal/service/conversion"
	"pdfhtmlgo/internal/worker"
)

const defaultMaxUploadBytes = 50 << 20

type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (*conversion.Result, error)
}

type ProcessLookup interface {
	Lookup(ctx context.Context, id string) (*models.ConversionProcess, error)
	Remaining(p *models.ConversionProcess) time.Duration
}

// Handler wires HTTP routes to the conversion service and the process registry.
type Handler struct {
	conversions    Converter
	processes      ProcessLookup
	publicBaseURL  string
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(conversions Converter, processes ProcessLookup, publicBaseURL string, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		conversions:    conversions,
		processes:      processes,
		publicBaseURL:  publicBaseURL,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.POST("/convert", h.convert)
	router.GET("/convert", h.dispatchAction)
	router.GET("/convert/download/:process_id", func(c *gin.Context) {
		h.serveHTML(c, c.Param("process_id"), true)
	})
	router.GET("/convert/view/:process_id", func(c *gin.Context) {
		h.serveHTML(c, c.Param("process_id"), false)
	})
	router.GET("/convert/assets/:process_id/*asset_path", func(c *gin.Context) {
		h.serveAsset(c, c.Param("process_id"), strings.TrimPrefix(c.Param("asset_path"), "/"))
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "pdf-to-html"})
}

// convertInput is the /convert request, from a multipart or urlencoded form
// or from a JSON body that names the PDF by pdf_url.
type convertInput struct {
	file               *multipart.FileHeader
	PDFURL             string      `json:"pdf_url"`
	PublicBaseURL      string      `json:"public_base_url"`
	ImageStrategy      string      `json:"image_strategy"`
	RenderDPI          json.Number `json:"render_dpi"`
	ExtractorBaseURL   string      `json:"extractor_base_url"`
	ExtractorSessionID string      `json:"extractor_session_id"`
	Format             string      `json:"format"`
}

// bindConvert reads the request and writes the error response itself when
// it returns false.
func (h *Handler) bindConvert(c *gin.Context) (*convertInput, bool) {
	var in convertInput
	var tooLarge *http.MaxBytesError
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(&in); err != nil {
			if errors.As(err, &tooLarge) {
				h.fail(c, http.StatusRequestEntityTooLarge, "request too large")
				return nil, false
			}
			h.fail(c, http.StatusBadRequest, "invalid JSON body")
			return nil, false
		}
	} else {
		file, err := c.FormFile("file")
		switch {
		case err == nil:
			if strings.TrimSpace(file.Filename) == "" {
				h.fail(c, http.StatusBadRequest, "empty filename")
				return nil, false
			}
			in.file = file
		case errors.As(err, &tooLarge):
			h.fail(c, http.StatusRequestEntityTooLarge, "file too large")
			return nil, false
		}
		in.PDFURL = c.PostForm("pdf_url")
		in.PublicBaseURL = c.PostForm("public_base_url")
		in.ImageStrategy = c.PostForm("image_strategy")
		in.RenderDPI = json.Number(c.PostForm("render_dpi"))
		in.ExtractorBaseURL = c.PostForm("extractor_base_url")
		in.ExtractorSessionID = c.PostForm("extractor_session_id")
		in.Format = c.PostForm("format")
	}
	in.PDFURL = strings.TrimSpace(in.PDFURL)
	if in.file == nil && in.PDFURL == "" {
		h.fail(c, http.StatusBadRequest, "no file was sent")
		return nil, false
	}
	return &in, true
}

func (h *Handler) convert(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	in, ok := h.bindConvert(c)
	if !ok {
		return
	}

	dpi := 0
	if raw := strings.TrimSpace(in.RenderDPI.String()); raw != "" {
		var err error
		dpi, err = strconv.Atoi(raw)
		if err != nil || dpi <= 0 {
			h.fail(c, http.StatusBadRequest, "render_dpi must be a positive integer")
			return
		}
	}

	req := conversion.Request{
		PDFURL:             in.PDFURL,
		ClientKey:          c.ClientIP(),
		ImageStrategy:      in.ImageStrategy,
		RenderDPI:          dpi,
		ExtractorBaseURL:   strings.TrimSpace(in.ExtractorBaseURL),
		ExtractorSessionID: strings.TrimSpace(in.ExtractorSessionID),
	}
	if in.file != nil {
		f, err := in.file.Open()
		if err != nil {
			h.fail(c, http.StatusBadRequest, "open file failed")
			return
		}
		defer f.Close()
		req.Filename, req.File = in.file.Filename, f
	}

	base := publisher.ResolveBaseURL(in.PublicBaseURL, h.publicBaseURL, c.Request)
	req.AssetURL = func(processID, assetPath string) string {
		return publisher.URLs{Base: base, ProcessID: processID}.Asset(assetPath)
	}
	res, err := h.conversions.Convert(c.Request.Context(), req)
	if err != nil {
		h.failErr(c, err)
		return
	}

	p := res.Process
	if in.Format == "file" {
		h.serveFile(c, p, p.HTMLPath, p.HTMLFilename(), true)
		return
	}

	urls := publisher.URLs{Base: base, ProcessID: p.ID}
	payload := gin.H{
		"success":             true,
		"html":                res.HTML,
		"filename":            p.HTMLFilename(),
		"process_id":          p.ID,
		"additional_files":    p.AdditionalFiles,
		"assets_base_url":     urls.AssetsBase(),
		"asset_url_template":  urls.AssetTemplate(),
		"image_strategy":      p.ImageStrategy,
		"embedded_images":     p.EmbeddedImages,
		"processed_page":      1,
		"public_html_url":     urls.View(),
		"public_download_url": urls.Download(),
		"expires_at":          p.ExpiresAt.UTC().Format(time.RFC3339),
		"message":             "PDF converted successfully",
	}
	if res.Metadata != nil {
		payload["metadata"] = res.Metadata
		payload["metadata_filename"] = res.MetadataFile
	}
	c.JSON(http.StatusOK, payload)
}

// dispatchAction serves GET /convert?action=view|download|asset.
func (h *Handler) dispatchAction(c *gin.Context) {
	action := strings.TrimSpace(c.Query("action"))
	processID := strings.TrimSpace(c.Query("process_id"))
	if action == "" || processID == "" {
		h.fail(c, http.StatusBadRequest, "action and process_id are required")
		return
	}
	switch action {
	case "view":
		h.serveHTML(c, processID, false)
	case "download":
		h.serveHTML(c, processID, true)
	case "asset":
		assetPath := c.Query("asset_path")
		if strings.TrimSpace(assetPath) == "" {
			h.fail(c, http.StatusBadRequest, "asset_path is required")
			return
		}
		h.serveAsset(c, processID, assetPath)
	default:
		h.fail(c, http.StatusBadRequest, fmt.Sprintf("unsupported action %q", action))
	}
}

func (h *Handler) serveHTML(c *gin.Context, processID string, attachment bool) {
	p, err := h.processes.Lookup(c.Request.Context(), processID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	h.serveFile(c, p, p.HTMLPath, p.HTMLFilename(), attachment)
}

func (h *Handler) serveAsset(c *gin.Context, processID, assetPath string) {
	p, err := h.processes.Lookup(c.Request.Context(), processID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	path, err := publisher.ResolveAssetPath(p.OutputDir, assetPath)
	if err != nil {
		h.failErr(c, err)
		return
	}
	c.Header("Content-Type", publisher.ContentType(path))
	h.serveFile(c, p, path, "", false)
}

// serveFile streams a published file with a cache lifetime bounded by the
// process expiry.
func (h *Handler) serveFile(c *gin.Context, p *models.ConversionProcess, path, name string, attachment bool) {
	f, err := os.Open(path)
	if err != nil {
		h.failErr(c, apperr.Wrap(apperr.ErrNotFound, "process %s: %v", p.ID, err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.failErr(c, apperr.Wrap(apperr.ErrNotFound, "process %s: not a file", p.ID))
		return
	}

	maxAge := int(math.Ceil(h.processes.Remaining(p).Seconds()))
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	if name != "" {
		disposition := "inline"
		if attachment {
			disposition = "attachment"
		}
		c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
		c.Header("Content-Type", "text/html; charset=utf-8")
	}
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), f)
}

func (h *Handler) failErr(c *gin.Context, err error) {
	status := apperr.Status(err)
	msg := apperr.Message(err)
	if errors.Is(err, worker.ErrDispatcherBusy) || errors.Is(err, worker.ErrDispatcherClosed) {
		status = http.StatusServiceUnavailable
		msg = "server is busy, please retry"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	_ = c.Error(err)
	h.fail(c, status, msg)
}

func (h *Handler) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}
