// Package server is the thin web front-end over the analysis pipeline:
// PDF upload, cached results, and feedback logging. Everything user-facing
// beyond these JSON endpoints (pages, charts) is a separate collaborator.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/styx8114/attackmap/internal/analysis"
	"github.com/styx8114/attackmap/internal/export"
)

// Server handles uploads and serves analysis results.
type Server struct {
	orch        *analysis.Orchestrator
	exp         *export.Writer
	feedbackLog string
	maxUpload   int64 // bytes
	verbose     bool

	mu         sync.Mutex // serializes feedback log appends
	httpServer *http.Server
}

// New creates a Server around an orchestrator and artifact writer.
func New(orch *analysis.Orchestrator, exp *export.Writer, feedbackLog string, maxUploadMB int64, verbose bool) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = 16
	}
	return &Server{
		orch:        orch,
		exp:         exp,
		feedbackLog: feedbackLog,
		maxUpload:   maxUploadMB << 20,
		verbose:     verbose,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Default().Handler)

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/results", s.handleResults)
	r.Post("/feedback", s.handleFeedback)

	return r
}

// Start begins listening on the given port (0 = OS-assigned). Returns "host:port".
func (s *Server) Start(port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	go s.httpServer.Serve(ln) //nolint:errcheck

	return ln.Addr().String(), nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyze accepts a multipart PDF upload, runs the pipeline, persists
// the artifacts, and returns the malware and report-level technique lists.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file part in the request")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected for uploading")
		return
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "invalid file type, please upload a PDF")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	res := s.orch.Analyze(r.Context(), bytes.NewReader(data))
	if res.Error != "" {
		writeError(w, http.StatusInternalServerError, res.Error)
		return
	}

	if _, _, err := s.exp.SaveResults(res); err != nil {
		fmt.Fprintf(os.Stderr, "[server] warning: save results: %v\n", err)
	}
	if _, err := s.exp.SaveTimeline(res); err != nil {
		fmt.Fprintf(os.Stderr, "[server] warning: save timeline: %v\n", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"malware":     res.Malware,
		"report_ttps": res.ReportTTPs,
	})
}

// handleResults returns the last persisted results document, or empty lists
// when no analysis has run yet.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.exp.ResultsPath())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"malware":     []interface{}{},
			"report_ttps": []interface{}{},
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type feedbackRequest struct {
	Q1         string `json:"q1"`
	Q2         string `json:"q2"`
	Q3         string `json:"q3"`
	Experience string `json:"experience"`
	Feedback   string `json:"feedback"`
}

// handleFeedback validates the survey fields and appends them to the
// feedback log.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Q1 == "" || req.Q2 == "" || req.Q3 == "" || req.Experience == "" {
		writeError(w, http.StatusBadRequest, "please fill all fields")
		return
	}

	if err := s.appendFeedback(req); err != nil {
		fmt.Fprintf(os.Stderr, "[server] feedback log: %v\n", err)
		writeError(w, http.StatusInternalServerError, "could not record feedback")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "thanks for your feedback"})
}

func (s *Server) appendFeedback(req feedbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.feedbackLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "Usefulness: %s | Usability: %s | Visual Appeal: %s | Experience: %s\n",
		req.Q1, req.Q2, req.Q3, req.Experience)
	if text := strings.TrimSpace(req.Feedback); text != "" {
		fmt.Fprintf(f, "User Comment: %s\n", text)
	}
	fmt.Fprintln(f, "---")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
