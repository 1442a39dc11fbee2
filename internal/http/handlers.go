package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/config"
	"picdeck/internal/fetch"
	"picdeck/internal/image_list"
	"picdeck/internal/provider"
)

// Listing is the wire form of one entry of GET /api/images
type Listing struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type imageMeta struct {
	image_list.ImageMetadata
	Cached bool `json:"cached"`
}

type Handlers struct {
	config   *config.Config
	logger   *zap.Logger
	provider *provider.Provider
}

func New(config *config.Config, logger *zap.Logger, provider *provider.Provider) *Handlers {
	return &Handlers{
		config:   config,
		logger:   logger.Named("http"),
		provider: provider,
	}
}

// Router wires every route; metrics may be nil to leave /metrics out
func (h *Handlers) Router(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/images", h.HandleImages)
	mux.HandleFunc("/api/images/", h.HandleImageRoutes)
	mux.HandleFunc("/api/cache/clear", h.HandleCacheClear)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
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
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	images := h.provider.All()
	listings := make([]Listing, 0, len(images))
	for _, img := range images {
		listings = append(listings, Listing{
			ID:    img.ID,
			Title: img.Title,
			URL:   h.imageURL(img.ID),
		})
	}

	writeJSON(w, listings)
}

func (h *Handlers) imageURL(id string) string {
	return h.config.PublicBaseURL + "/api/images/" + url.PathEscape(id) + "/image"
}

func (h *Handlers) HandleImageRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/api/images/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	imageID, err := url.PathUnescape(parts[0])
	if err != nil || imageID == "" {
		http.Error(w, "Invalid image id", http.StatusBadRequest)
		return
	}

	index := h.provider.IndexOf(imageID)
	if index < 0 {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "meta":
		h.handleImageMeta(w, r, index)
	case "image":
		h.handleImage(w, r, index)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleImageMeta(w http.ResponseWriter, r *http.Request, index int) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta, err := h.provider.Metadata(index)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, imageMeta{ImageMetadata: meta, Cached: h.provider.IsCached(index)})
}

func (h *Handlers) handleImage(w http.ResponseWriter, r *http.Request, index int) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	size, err := parseSize(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	meta, err := h.provider.Metadata(index)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	img, err := h.provider.Image(r.Context(), index, size, "")
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to fetch image", zap.String("id", meta.ID), zap.String("size", size.String()), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	data, ok := h.provider.EncodedImage(index, size)
	if !ok {
		if data, err = encode(img, meta.ID); err != nil {
			h.logger.Error("Failed to encode image", zap.String("id", meta.ID), zap.Error(err))
			http.Error(w, "Failed to encode image", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(data)
}

// encode writes img in the format its identifier names, PNG when imaging
// cannot write that format
func encode(img image.Image, id string) ([]byte, error) {
	format, err := imaging.FormatFromFilename(id)
	if err != nil {
		format = imaging.PNG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(82)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HandleCacheClear empties the memory tier (tier=memory) or both tiers
// (tier=all, the default)
func (h *Handlers) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch tier := r.URL.Query().Get("tier"); tier {
	case "memory":
		h.provider.ClearMemoryCache()
	case "", "all":
		if err := h.provider.ClearCache(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("Unknown tier %q", tier), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func parseSize(q url.Values) (cache.Size, error) {
	var size cache.Size
	var err error

	if v := q.Get("w"); v != "" {
		if size.Width, err = strconv.Atoi(v); err != nil || size.Width < 0 {
			return cache.Size{}, fmt.Errorf("invalid width %q", v)
		}
	}
	if v := q.Get("h"); v != "" {
		if size.Height, err = strconv.Atoi(v); err != nil || size.Height < 0 {
			return cache.Size{}, fmt.Errorf("invalid height %q", v)
		}
	}
	if v := q.Get("scale"); v != "" {
		if size.Scale, err = strconv.ParseFloat(v, 64); err != nil || size.Scale <= 0 || size.Scale > 8 {
			return cache.Size{}, fmt.Errorf("invalid scale %q", v)
		}
	}
	if size.IsOriginal() {
		return cache.Size{}, nil
	}
	if size.Scale == 0 {
		size.Scale = 1
	}
	return size, nil
}

func statusFor(err error) int {
	var fe *fetch.FetchError
	switch {
	case errors.Is(err, image_list.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	case errors.As(err, &fe):
		switch fe.Kind {
		case fetch.KindNotFound:
			return http.StatusNotFound
		case fetch.KindTimeout:
			return http.StatusGatewayTimeout
		}
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
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
