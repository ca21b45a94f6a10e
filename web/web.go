// Package web serves the upload form, the HTML and JSON check endpoints and
// the corrected file download.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/accesspdf/idgen"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/observability"
	"github.com/hazyhaar/accesspdf/pipeline"
	"github.com/hazyhaar/accesspdf/shield"
)

// CorrectedFileName is the download name of every corrected PDF.
const CorrectedFileName = "corrected.pdf"

// multipartSlack covers the multipart framing around the file part.
const multipartSlack = 1 << 20

// Checker runs one check. *pipeline.Runner implements it.
type Checker interface {
	Run(ctx context.Context, doc *ingest.Document) (*pipeline.Result, error)
}

// Config wires a Server.
type Config struct {
	Store   *ingest.Store
	Checker Checker

	// MaxConcurrentRuns bounds simultaneous pipeline runs (default 1).
	MaxConcurrentRuns int64

	// Health reports the latest heartbeat for /healthz. Optional.
	Health func(ctx context.Context) (*observability.HeartbeatStatus, error)

	Logger     *slog.Logger
	RequestIDs idgen.Generator
}

// Server is the HTTP surface of the service.
type Server struct {
	cfg    Config
	store  *ingest.Store
	sem    *semaphore.Weighted
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Checker == nil {
		return nil, errors.New("web: store and checker are required")
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		store:  cfg.Store,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		logger: cfg.Logger,
	}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(shield.StackConfig{
		MaxBodyBytes: s.store.MaxFileBytes() + multipartSlack,
		Logger:       s.logger,
		RequestIDs:   s.cfg.RequestIDs,
	}) {
		r.Use(mw)
	}

	r.Get("/", s.handleIndex)
	r.Post("/check", s.handleCheck)
	r.Post("/api/check", s.handleAPICheck)
	r.Get("/download/{id}", s.handleDownload)
	r.Get("/healthz", s.handleHealth)
	r.Get("/static/style.css", handleStyle)
	return r
}

type pageData struct {
	Title       string
	Flash       *shield.FlashMessage
	MaxUploadMB int64
	Report      *reportView
	Error       string
}

type reportView struct {
	ID          string
	FileName    string
	Pages       int
	OCRPages    []int
	Issues      []string
	Warnings    []string
	DownloadURL string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	render(w, "index", http.StatusOK, &pageData{
		Title:       "Vérificateur d'accessibilité PDF",
		Flash:       shield.GetFlash(r.Context()),
		MaxUploadMB: s.store.MaxFileBytes() >> 20,
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	res, err := s.check(r)
	if errors.Is(err, errNoFile) {
		shield.SetFlash(w, "error", userMessage(err))
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			log.Error("check failed", "error", err)
		} else {
			log.Info("check rejected", "error", err, "status", status)
		}
		render(w, "error", status, &pageData{Title: "Erreur", Error: userMessage(err)})
		return
	}

	view := &reportView{
		ID:          res.Document.ID,
		FileName:    res.Document.OriginalName,
		Pages:       res.Extraction.PageCount(),
		OCRPages:    res.Extraction.OCRPages(),
		Issues:      res.Report.Messages(),
		Warnings:    res.Report.Warnings(),
		DownloadURL: "/download/" + res.Document.ID,
	}
	render(w, "report", http.StatusOK, &pageData{Title: "Rapport d'accessibilité", Report: view})
}

func (s *Server) handleAPICheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.check(r)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			shield.GetLogger(r.Context()).Error("api check failed", "error", err)
		}
		writeJSON(w, status, map[string]string{"error": userMessage(err)})
		return
	}
	resp := res.Response()
	resp.CorrectedPath = "" // server-side path, not for clients
	writeJSON(w, http.StatusOK, struct {
		*pipeline.CheckResponse
		DownloadURL string `json:"download_url"`
	}{resp, "/download/" + res.Document.ID})
}

// check receives the upload, waits for a run slot and runs the pipeline.
// A failed run removes the upload.
func (s *Server) check(r *http.Request) (*pipeline.Result, error) {
	doc, err := s.receive(r)
	if err != nil {
		return nil, err
	}
	log := shield.GetLogger(r.Context()).With("document_id", doc.ID)
	log.Info("upload received", "size", doc.SizeBytes, "name", doc.OriginalName)

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		s.store.Remove(doc.ID)
		return nil, fmt.Errorf("%w: %v", errQueue, err)
	}
	defer s.sem.Release(1)

	res, err := s.cfg.Checker.Run(r.Context(), doc)
	if err != nil {
		if rerr := s.store.Remove(doc.ID); rerr != nil {
			log.Warn("cleanup after failed run", "error", rerr)
		}
		return nil, err
	}
	return res, nil
}

// receive streams the "file" part of a multipart form into the store.
func (s *Server) receive(r *http.Request) (*ingest.Document, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadForm, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBadForm, err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			return nil, errNoFile
		}
		doc, err := s.store.Save(part, name)
		part.Close()
		return doc, err
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f, err := s.store.OpenCorrected(id)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			shield.GetLogger(r.Context()).Error("open corrected", "id", id, "error", err)
		}
		http.Error(w, userMessage(err), status)
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+CorrectedFileName+`"`)
	http.ServeContent(w, r, CorrectedFileName, modTime, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.cfg.Health != nil {
		hs, err := s.cfg.Health(r.Context())
		switch {
		case err != nil:
			body["heartbeat_error"] = err.Error()
		case hs != nil:
			body["heartbeat"] = hs
			if !hs.Alive {
				body["status"] = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
