package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stripview/internal/config"
	"stripview/internal/fetcher"
	"stripview/internal/image_slicer"
	"stripview/internal/metrics"
)

// ImageSource hands back the raw bytes for a source URL, from cache or
// upstream. image_cache.Store is the production implementation.
type ImageSource interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Codec probes and cuts source images. image_slicer.Engine is the production
// implementation.
type Codec interface {
	Dimensions(buf []byte) (width, height int, err error)
	Extract(buf []byte, width, y, bandHeight int) ([]byte, error)
}

type manifestSlice struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Y      int    `json:"y"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type manifest struct {
	OriginalWidth  int             `json:"originalWidth"`
	OriginalHeight int             `json:"originalHeight"`
	SliceHeight    int             `json:"sliceHeight"`
	NumSlices      int             `json:"numSlices"`
	Slices         []manifestSlice `json:"slices"`
}

type Handlers struct {
	config  *config.Config
	logger  *zap.Logger
	images  ImageSource
	codec   Codec
	metrics *metrics.Metrics
}

func New(config *config.Config, logger *zap.Logger, images ImageSource, codec Codec, m *metrics.Metrics) *Handlers {
	return &Handlers{
		config:  config,
		logger:  logger,
		images:  images,
		codec:   codec,
		metrics: m,
	}
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleSlice serves GET /slice?url=<source>&index=<n>. Without an index it
// returns the manifest describing the partition; with one it returns that
// band re-encoded as JPEG. Bounds can only be checked after the source image
// is in hand, so the fetch always happens first.
func (h *Handlers) HandleSlice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	src := r.URL.Query().Get("url")
	if src == "" {
		h.writeError(w, http.StatusBadRequest, "Missing url parameter")
		return
	}
	if !validSourceURL(src) {
		h.writeError(w, http.StatusBadRequest, "Invalid url parameter")
		return
	}

	// index absent means "send the manifest".
	index := -1
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid index parameter")
			return
		}
		index = n
	}

	data, err := h.images.Get(r.Context(), src)
	if err != nil {
		h.writeFailure(w, src, err)
		return
	}

	width, height, err := h.codec.Dimensions(data)
	if err != nil {
		h.writeFailure(w, src, err)
		return
	}

	if index < 0 {
		h.writeManifest(w, src, width, height)
		return
	}
	h.writeSlice(w, r, src, data, width, height, index)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) writeManifest(w http.ResponseWriter, src string, width, height int) {
	bands := image_slicer.Partition(height, h.config.SliceHeight)

	m := manifest{
		OriginalWidth:  width,
		OriginalHeight: height,
		SliceHeight:    h.config.SliceHeight,
		NumSlices:      len(bands),
		Slices:         make([]manifestSlice, 0, len(bands)),
	}
	for _, band := range bands {
		m.Slices = append(m.Slices, manifestSlice{
			Index:  band.Index,
			URL:    h.sliceURL(src, band.Index),
			Y:      band.Y,
			Height: band.Height,
			Width:  width,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (h *Handlers) writeSlice(w http.ResponseWriter, r *http.Request, src string, data []byte, width, height, index int) {
	y := index * h.config.SliceHeight
	if y >= height {
		h.writeError(w, http.StatusNotFound, "Slice index out of bounds")
		return
	}
	bandHeight := h.config.SliceHeight
	if rest := height - y; rest < bandHeight {
		bandHeight = rest
	}

	start := time.Now()
	encoded, err := h.codec.Extract(data, width, y, bandHeight)
	if err != nil {
		h.writeFailure(w, src, err)
		return
	}
	h.metrics.SliceRendered(time.Since(start).Seconds())

	// A (url, index) pair is deterministic for the life of the cache entry,
	// so clients may cache aggressively.
	w.Header().Set("ETag", `"`+contentETag(encoded)+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(encoded)))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(encoded)
}

// writeFailure maps core errors onto statuses with errors.Is, never by
// message inspection. Fetch and extraction failures both surface as 500 with
// the wrapped message in the body.
func (h *Handlers) writeFailure(w http.ResponseWriter, src string, err error) {
	switch {
	case errors.Is(err, fetcher.ErrUpstream):
		h.logger.Error("image fetch failed", zap.String("url", src), zap.Error(err))
	case errors.Is(err, image_slicer.ErrExtract):
		h.logger.Error("slice extraction failed", zap.String("url", src), zap.Error(err))
	default:
		h.logger.Error("slice request failed", zap.String("url", src), zap.Error(err))
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *Handlers) sliceURL(src string, index int) string {
	return fmt.Sprintf("%s/slice?url=%s&index=%d", h.config.PublicBaseURL, url.QueryEscape(src), index)
}

func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Not for real production use due to potential spoofing
// but it's fine behind a proxy that sets the header
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
