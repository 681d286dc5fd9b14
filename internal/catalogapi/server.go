// Package catalogapi serves the shared catalog document that every storefront
// instance synchronizes against.
package catalogapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/alburaq/catalogsync/internal/blobstore"
	"github.com/alburaq/catalogsync/internal/catalog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	documentVersion  = "1.0"
	maxSaveAttempts  = 3
	MessageSaved     = "Products saved successfully"
	NoticeUpdated    = "catalog.updated"
	DefaultTokenTTL  = 12 * time.Hour
	defaultBodyLimit = 4 << 20
)

var routePrefixes = []string{"/products", "/.netlify/functions/products"}

type Config struct {
	// JWTSecret enables bearer auth on writes when set.
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	TokenTTL          time.Duration
	MaxBodyBytes      int64
	Logger            *zap.Logger
	Now               func() time.Time
}

type Server struct {
	store     blobstore.Store
	validator *catalog.Validator
	cfg       Config
	logger    *zap.Logger
	hub       *hub
	router    chi.Router
}

// storedDocument is the shape written to the document store and returned by
// GET.
type storedDocument struct {
	Products    []catalog.Product `json:"products"`
	LastUpdated *string           `json:"lastUpdated"`
	Version     string            `json:"version"`
}

func NewServer(store blobstore.Store, validator *catalog.Validator, cfg Config) *Server {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultBodyLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		store:     store,
		validator: validator,
		cfg:       cfg,
		logger:    cfg.Logger,
		hub:       newHub(cfg.Logger),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/token", s.handleToken)
	for _, prefix := range routePrefixes {
		r.Get(prefix, s.handleGet)
		r.Post(prefix, s.handleSave)
		r.Options(prefix, handlePreflight)
		r.Get(prefix+"/ws", s.handleWatch)
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", "")
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close drops every watch connection. Hijacked connections are not tracked
// by http.Server.Shutdown.
func (s *Server) Close() error {
	s.hub.closeAll()
	return nil
}

// Watchers reports the number of connected websocket clients.
func (s *Server) Watchers() int {
	return s.hub.count()
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context())
	if err != nil {
		s.logger.Error("catalog read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}
	if !doc.Exists {
		writeJSON(w, http.StatusOK, storedDocument{Products: []catalog.Product{}, Version: documentVersion})
		return
	}
	w.Header().Set("ETag", strconv.Quote(doc.Version))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if authErr := s.authorize(r.Header.Get("Authorization")); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "Missing body", "")
		return
	}
	if err := s.validator.ValidateDocument(body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid products data", err.Error())
		return
	}
	var req struct {
		Products []catalog.Product `json:"products"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid products data", err.Error())
		return
	}
	products := make([]catalog.Product, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, catalog.Normalize(p))
	}
	if err := catalog.ValidateProducts(products); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid products data", err.Error())
		return
	}

	lastUpdated := s.cfg.Now().UTC().Format(time.RFC3339)
	payload := storedDocument{Products: products, LastUpdated: &lastUpdated, Version: documentVersion}
	content, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	doc, err := s.save(r.Context(), content, normalizeIfMatchHeader(r.Header.Get("If-Match")))
	if err != nil {
		var conflict *blobstore.ConflictError
		if errors.As(err, &conflict) {
			if conflict.Current != "" {
				w.Header().Set("ETag", strconv.Quote(conflict.Current))
			}
			writeError(w, http.StatusConflict, "Version conflict", err.Error())
			return
		}
		s.logger.Error("catalog write failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	s.logger.Info("catalog saved", zap.Int("products", len(products)), zap.String("version", doc.Version))
	s.hub.broadcast(notice{Type: NoticeUpdated, Version: doc.Version})
	w.Header().Set("ETag", strconv.Quote(doc.Version))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": MessageSaved,
		"data":    payload,
	})
}

// save writes content conditioned on the version it last read. A caller
// supplied If-Match is checked once; otherwise a concurrent write that lands
// between the read and the put is retried against the fresh version.
func (s *Server) save(ctx context.Context, content []byte, ifMatch string) (blobstore.Document, error) {
	if ifMatch != "" && ifMatch != "*" {
		return s.store.Put(ctx, content, ifMatch)
	}
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		current, err := s.store.Get(ctx)
		if err != nil {
			return blobstore.Document{}, err
		}
		doc, err := s.store.Put(ctx, content, current.Version)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, blobstore.ErrVersionConflict) {
			return blobstore.Document{}, err
		}
		s.logger.Debug("catalog write raced, retrying", zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return blobstore.Document{}, lastErr
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Bad request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]any{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

func normalizeIfMatchHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "W/") || strings.HasPrefix(value, "w/") {
		value = strings.TrimSpace(value[2:])
	}
	if len(value) >= 2 && strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	return value
}
