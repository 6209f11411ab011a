// Package server is the HTTP façade that runs the CLI on behalf of an
// orchestration frontend and translates its output into JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// Markers the CLI prints on stdout
const (
	MarkerSuccess  = "SUCCESS"
	MarkerPosted   = "Posted:"
	MarkerFailed   = "FAILED"
	MarkerKeptOpen = "Browser kept open"
)

// RunRequest is the body of a debug run
type RunRequest struct {
	Caption         string `json:"caption"`
	Headless        *bool  `json:"headless,omitempty"`
	KeepBrowserOpen bool   `json:"keepBrowserOpen"`
	Media           string `json:"media,omitempty"`
}

// RunResponse is returned for every debug run
type RunResponse struct {
	Success         bool     `json:"success"`
	Output          string   `json:"output"`
	Message         string   `json:"message,omitempty"`
	Error           string   `json:"error,omitempty"`
	Troubleshooting []string `json:"troubleshooting,omitempty"`
}

// Server hosts the automation API
type Server struct {
	addr       string
	runner     Runner
	runTimeout time.Duration
	logger     *zap.Logger
}

// New creates a server. runTimeout bounds each CLI run and should exceed the
// CLI's own browser timeout.
func New(addr string, runner Runner, runTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, runner: runner, runTimeout: runTimeout, logger: logger.Named("server")}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/automation", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/run-{platform}-debug", s.handleRun)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Automation server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down automation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	p, err := types.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, RunResponse{Error: err.Error()})
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, RunResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	args := CommandArgs(p, req)
	detachOn := ""
	if req.KeepBrowserOpen {
		detachOn = MarkerKeptOpen
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	s.logger.Info("Starting debug run", zap.String("platform", string(p)), zap.Strings("args", args))
	res, err := s.runner.Run(ctx, args, detachOn)
	if err != nil {
		s.logger.Error("Debug run failed to execute", zap.String("platform", string(p)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, RunResponse{
			Output:          res.Output,
			Error:           err.Error(),
			Troubleshooting: Troubleshoot(p, res.Output, -1),
		})
		return
	}

	resp := Interpret(p, res)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// CommandArgs maps a request onto CLI arguments
func CommandArgs(p types.Platform, req RunRequest) []string {
	args := []string{"post", string(p)}
	if req.Caption != "" {
		args = append(args, req.Caption)
	}
	if req.Headless != nil {
		args = append(args, fmt.Sprintf("--headless=%t", *req.Headless))
	}
	if req.KeepBrowserOpen {
		args = append(args, "--keep-open")
	}
	if req.Media != "" {
		args = append(args, "--media", req.Media)
	}
	return args
}

// Interpret turns the CLI exit code and stdout markers into a response
func Interpret(p types.Platform, res Result) RunResponse {
	out := res.Output
	posted := strings.Contains(out, MarkerSuccess) || strings.Contains(out, MarkerPosted)
	kept := strings.Contains(out, MarkerKeptOpen)

	if posted && !strings.Contains(out, MarkerFailed) && (res.ExitCode == 0 || res.Detached) {
		msg := fmt.Sprintf("Posted to %s", p)
		if kept {
			msg += "; browser kept open for inspection"
		}
		return RunResponse{Success: true, Output: out, Message: msg}
	}

	return RunResponse{
		Output:          out,
		Error:           failureReason(res),
		Troubleshooting: Troubleshoot(p, out, res.ExitCode),
	}
}

func failureReason(res Result) string {
	for _, line := range strings.Split(res.Output, "\n") {
		if i := strings.Index(line, MarkerFailed); i >= 0 {
			return strings.TrimSpace(strings.TrimPrefix(line[i:], MarkerFailed+":"))
		}
	}
	switch res.ExitCode {
	case 2:
		return "browser timeout exceeded"
	case 0:
		return "run finished without a success marker"
	}
	return fmt.Sprintf("run exited with code %d", res.ExitCode)
}

var credentialHints = map[types.Platform]string{
	types.Facebook:  "FB_USERNAME and FB_PASSWORD",
	types.Instagram: "IG_USERNAME and IG_PASSWORD",
	types.Twitter:   "TWIT_USERNAME and TWIT_PASSWORD",
}

// Troubleshoot suggests next steps from the failure output. exitCode -1
// means the CLI could not be run at all.
func Troubleshoot(p types.Platform, output string, exitCode int) []string {
	out := strings.ToLower(output)
	var hints []string
	add := func(h string) { hints = append(hints, h) }

	if exitCode == -1 {
		add("Check that the postpilot binary is installed and executable")
	}
	if exitCode == 2 || strings.Contains(out, "timeout") {
		add("Increase BROWSER_TIMEOUT (milliseconds) or check the network connection")
	}
	if strings.Contains(out, string(types.SecurityChallengeEncountered)) || strings.Contains(out, "security challenge") {
		add("Check for a security challenge: complete it manually in a visible browser, then retry")
	}
	if strings.Contains(out, "no credentials") || strings.Contains(out, "password") || strings.Contains(out, "logged-in markers") {
		add(fmt.Sprintf("Check credentials: set %s", credentialHints[p]))
		add(fmt.Sprintf("Clear stale cookies with `postpilot logout %s`", p))
	}
	if strings.Contains(out, "media") {
		add("Pass an existing image with --media; Instagram cannot post text alone")
	}
	if strings.Contains(out, string(types.DiscoveryFailure)) || strings.Contains(out, "no selector candidates") {
		add("The page layout may have changed: run `postpilot discover` on the saved HTML snapshot")
	}
	if strings.Contains(out, "could not be verified") {
		add("The post may have gone through: check the feed before retrying")
	}
	if strings.Contains(out, "network") {
		add("Check the network connection and that the site is reachable")
	}
	add("Re-run with headless=false to watch the browser")
	add("Inspect the failure screenshot in the screenshots directory")
	return hints
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
