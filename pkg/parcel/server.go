package parcel

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	// DefaultMax is the default limit on the size of an upload body.
	DefaultMax = 150 << 20

	// in-memory part of a parsed multipart form, the rest spills to disk
	formMemory = 32 << 20
)

// Handler serves the upload and download endpoints of a Manager.
type Handler struct {
	manager *Manager
	url     string
	max     int64
	origins []string
	mounts  map[string]http.Handler
	logger  *zap.Logger
	router  chi.Router
}

type HandlerOption func(*Handler)

// BaseURL sets the public URL download links are built from.
func BaseURL(u string) HandlerOption {
	return func(h *Handler) {
		h.url = strings.TrimSuffix(u, "/")
	}
}

// Max limits the size of upload bodies.
func Max(max int64) HandlerOption {
	return func(h *Handler) {
		h.max = max
	}
}

// CORS allows cross-origin requests from origins.
func CORS(origins ...string) HandlerOption {
	return func(h *Handler) {
		h.origins = append(h.origins, origins...)
	}
}

// Mount serves handler at pattern alongside the package routes.
func Mount(pattern string, handler http.Handler) HandlerOption {
	return func(h *Handler) {
		h.mounts[pattern] = handler
	}
}

// NewHandler creates a Handler for m and applies opts.
func NewHandler(m *Manager, opts ...HandlerOption) *Handler {
	h := &Handler{
		manager: m,
		url:     "http://localhost:8080",
		max:     DefaultMax,
		mounts:  make(map[string]http.Handler),
		logger:  m.logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.logger))
	r.Use(middleware.Recoverer)
	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	r.Post("/upload", h.Upload)
	r.Post("/upload/", h.Upload)
	r.Get("/download/{token}", h.Download)
	r.Head("/download/{token}", h.Download)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for pattern, handler := range h.mounts {
		r.Handle(pattern, handler)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})
	h.router = r
	return h
}

// ServeHTTP will route requests depending on the method and path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type uploadResponse struct {
	Message      string    `json:"message"`
	DownloadLink string    `json:"download_link"`
	ExpiresAt    time.Time `json:"expires_at"`
	Checksum     string    `json:"checksum"`
}

// Upload reads the files of a multipart body, packages them and responds with
// the download link.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.max {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}

	// multipart framing counts against max too
	r.Body = http.MaxBytesReader(w, r.Body, h.max)

	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := r.MultipartForm.File
	headers := make([]*multipart.FileHeader, 0, len(form["files"])+len(form["file"]))
	headers = append(headers, form["files"]...)
	headers = append(headers, form["file"]...)
	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.logger.Error("open form file", zap.String("name", fh.Filename), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error processing upload")
			return
		}
		defer f.Close()
		files = append(files, File{Name: fh.Filename, Content: f})
	}

	p, err := h.manager.Create(r.Context(), files)
	switch {
	case errors.Is(err, ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error processing upload")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:      "files uploaded successfully",
		DownloadLink: h.url + "/download/" + p.Token,
		ExpiresAt:    p.Expires.UTC(),
		Checksum:     p.Checksum,
	})
}

// Download streams the archive for the token in the path.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	f, err := h.manager.Open(r.Context(), token)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "package expired or invalid")
		return
	case err != nil:
		h.logger.Error("resolve package", zap.String("token", token), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error accessing metadata store")
		return
	}
	defer f.Close()

	d, err := f.Stat()
	if err != nil {
		h.logger.Error("stat archive", zap.String("token", token), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error reading package")
		return
	}

	name := token + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, d.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func accessLog(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				l.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
