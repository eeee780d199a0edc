// Package server wires the QRescue HTTP routes to the registration,
// resolution and photo services.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/QRescue/internal/apperr"
	"github.com/dharsanguruparan/QRescue/internal/config"
	"github.com/dharsanguruparan/QRescue/internal/model"
	"github.com/dharsanguruparan/QRescue/internal/photo"
	"github.com/dharsanguruparan/QRescue/internal/qrcode"
	"github.com/dharsanguruparan/QRescue/internal/registration"
	"github.com/dharsanguruparan/QRescue/internal/resolution"
	"github.com/dharsanguruparan/QRescue/internal/storage"
)

const (
	maxJSONBody       = 64 << 10
	defaultLogLimit   = 50
	maxLogLimit       = 500
	qrImageSize       = 320
	multipartOverhead = 1 << 20
)

// Deps are the services a Server routes to. Gatherer may be nil, in which
// case /metrics is not served.
type Deps struct {
	Registration *registration.Service
	Resolution   *resolution.Service
	Photos       *photo.Service
	Store        storage.Store
	QR           qrcode.Renderer
	Gatherer     prometheus.Gatherer
}

// Server hosts the HTTP handlers.
type Server struct {
	cfg     *config.Config
	deps    Deps
	log     *zap.Logger
	handler http.Handler
}

// New builds a Server and its route table.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.QR == nil {
		deps.QR = qrcode.PNGRenderer{}
	}
	s := &Server{cfg: cfg, deps: deps, log: logger}
	s.handler = recoverMiddleware(logger, corsMiddleware(loggingMiddleware(logger, s.routes())))
	return s
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("http server listening", zap.String("address", s.cfg.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/profile/", s.handleProfileRoute)
	mux.HandleFunc("/api/qr/", s.handleQR)
	mux.HandleFunc("/api/photos", s.handleUpload)
	mux.HandleFunc("/api/photos/", s.handlePhotoRoute)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/accidents", s.handleAccidents)
	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var in registration.Input
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.deps.Registration.Register(r.Context(), in)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// handleProfileRoute serves /api/profile/{token} and
// /api/profile/{token}/location.
func (s *Server) handleProfileRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/profile/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	token := parts[0]
	switch {
	case len(parts) == 1:
		s.handleProfile(w, r, token)
	case len(parts) == 2 && parts[1] == "location":
		s.handleLocation(w, r, token)
	default:
		respondError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	view, err := s.deps.Resolution.Resolve(r.Context(), token)
	if err != nil {
		s.fail(w, err, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var loc model.Location
	if err := decodeJSON(w, r, &loc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.deps.Resolution.LogLocation(r.Context(), token, loc); err != nil {
		s.fail(w, err, "profile not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/qr/")
	if token == "" || strings.Contains(token, "/") {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}
	if _, _, err := s.deps.Resolution.Lookup(r.Context(), token); err != nil {
		s.fail(w, err, "profile not found")
		return
	}
	png, err := s.deps.QR.PNG(registration.ScanURL(s.baseURL(r), token), qrImageSize)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxPhotoSize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	in, err := s.readUpload(mr)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	rec, err := s.deps.Photos.Upload(r.Context(), in)
	if err != nil {
		s.fail(w, err, "profile not found")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{
		"viewToken": rec.ViewToken,
		"viewUrl":   s.cfg.BaseURL + "/api/photos/" + rec.ViewToken,
	})
}

// readUpload collects the token field and the first photo part. Photo bytes
// beyond the configured limit are not buffered.
func (s *Server) readUpload(mr *multipart.Reader) (photo.UploadInput, error) {
	var in photo.UploadInput
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return in, apperr.Invalid("photo", "failed to read upload", err)
		}
		switch part.FormName() {
		case "token":
			b, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				return in, apperr.Invalid("token", "failed to read token", err)
			}
			in.OwnerToken = strings.TrimSpace(string(b))
		case "photo":
			if in.Data != nil {
				part.Close()
				continue
			}
			b, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxPhotoSize+1))
			in.OriginalName = part.FileName()
			part.Close()
			if err != nil {
				return in, apperr.Invalid("photo", "failed to read photo", err)
			}
			if int64(len(b)) > s.cfg.MaxPhotoSize {
				return in, apperr.Invalid("photo", "photo exceeds "+strconv.FormatInt(s.cfg.MaxPhotoSize, 10)+" bytes", nil)
			}
			in.Data = b
		default:
			part.Close()
		}
	}
	if in.OwnerToken == "" {
		return in, apperr.Invalid("token", "token is required", nil)
	}
	if len(in.Data) == 0 {
		return in, apperr.Invalid("photo", "photo is required", nil)
	}
	return in, nil
}

// handlePhotoRoute serves /api/photos/{viewToken} and its /status.
func (s *Server) handlePhotoRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/photos/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	viewToken := parts[0]
	switch {
	case len(parts) == 1:
		s.handlePhotoView(w, r, viewToken)
	case len(parts) == 2 && parts[1] == "status":
		rec, err := s.deps.Photos.Status(r.Context(), viewToken)
		if err != nil {
			s.fail(w, err, "photo not found")
			return
		}
		respondJSON(w, http.StatusOK, rec)
	default:
		respondError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handlePhotoView(w http.ResponseWriter, r *http.Request, viewToken string) {
	rec, body, err := s.deps.Photos.View(r.Context(), viewToken)
	if err != nil {
		s.fail(w, err, "photo not found")
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `inline; filename="`+rec.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.Warn("stream photo", zap.String("view_token", viewToken), zap.Error(err))
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		s.fail(w, err, "")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAccidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}
	logs, err := s.deps.Store.RecentAccidentLogs(r.Context(), limit)
	if err != nil {
		s.fail(w, err, "")
		return
	}
	if logs == nil {
		logs = []model.AccidentLogEntry{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// baseURL prefers the configured base and otherwise derives an absolute
// origin from the request, so printed codes work outside the browser.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if r.Host == "" {
		return ""
	}
	return scheme + "://" + r.Host
}

// fail maps service errors onto status codes. notFound is the message used
// for a 404.
func (s *Server) fail(w http.ResponseWriter, err error, notFound string) {
	switch {
	case apperr.IsValidation(err):
		respondError(w, http.StatusBadRequest, apperr.Message(err))
	case errors.Is(err, storage.ErrNotFound):
		if notFound == "" {
			notFound = "not found"
		}
		respondError(w, http.StatusNotFound, notFound)
	case errors.Is(err, photo.ErrPhotoGone):
		respondError(w, http.StatusGone, "this photo link has already been used")
	default:
		s.log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
