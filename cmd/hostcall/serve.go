package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostcall/bridge"
	"github.com/caffeineduck/hostcall/executor"
	"github.com/caffeineduck/hostcall/templates"
)

const maxBodySize = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve FILE",
	Short: "Serve script functions over HTTP",
	Long: `Load FILE and serve its functions over HTTP. Every request is a
bridge call from the request goroutine onto the host loop.

Endpoints:
  POST /call/{fn}                  Call fn(body, token); body is the string argument
  GET  /templates                  Templates read from the --templates object
  POST /templates/{category}/{name} Expand a template through callTemplate; body is JSON params
  GET  /health                     Queue and reference statistics`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "Timeout per call")
	serveCmd.Flags().String("templates", "", "Global object providing templates")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	exec      *executor.Executor
	logger    *zap.Logger
	timeout   time.Duration
	provider  *templates.Provider
	functions func(ctx context.Context, name string) (*executor.Ref, error)

	mu   sync.Mutex
	refs map[string]*executor.Ref
}

func newServer(h *host, timeout time.Duration, provider *templates.Provider) *server {
	return &server{
		exec:      h.exec,
		logger:    h.logger.Named("serve"),
		timeout:   timeout,
		provider:  provider,
		functions: h.global,
		refs:      make(map[string]*executor.Ref),
	}
}

// function returns an owned reference to the global function name,
// rooting it on first use.
func (s *server) function(ctx context.Context, name string) (*executor.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.refs[name]; ok {
		return ref.Clone(), nil
	}
	ref, err := s.functions(ctx, name)
	if err != nil {
		return nil, err
	}
	s.refs[name] = ref
	return ref.Clone(), nil
}

func (s *server) close() {
	s.mu.Lock()
	for name, ref := range s.refs {
		ref.Drop()
		delete(s.refs, name)
	}
	s.mu.Unlock()
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/{fn}", s.handleCall)
	mux.HandleFunc("GET /templates", s.handleTemplates)
	mux.HandleFunc("POST /templates/{category}/{name}", s.handleRender)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withRequestID(mux)
}

type ctxKey struct{}

func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: requestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps bridge errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, bridge.ErrQueueFull), errors.Is(err, bridge.ErrChannelClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, templates.ErrTemplateCallUnsupported):
		return http.StatusNotImplemented
	case bridge.IsInternal(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// bodyStatus maps a request body read failure to 413 or 400.
func bodyStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), s.timeout)
	defer cancel()

	fn, err := s.function(ctx, r.PathValue("fn"))
	if err != nil {
		s.fail(w, r, http.StatusNotFound, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		fn.Drop()
		s.fail(w, r, bodyStatus(err), err)
		return
	}
	var arg *string
	if len(body) > 0 {
		str := string(body)
		arg = &str
	}

	result, err := bridge.Call[json.RawMessage](ctx, s.exec, fn, arg)
	if err != nil {
		s.fail(w, r, statusOf(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func (s *server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.fail(w, r, http.StatusNotFound, errors.New("no templates object configured"))
		return
	}
	tmpl := s.provider.Templates()
	writeJSON(w, http.StatusOK, templatesResponse{
		ReuseParams: tmpl.ReuseParams(),
		Templates:   tmpl.All(),
	})
}

func (s *server) handleRender(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.fail(w, r, http.StatusNotFound, errors.New("no templates object configured"))
		return
	}

	var params map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, bodyStatus(err), fmt.Errorf("invalid json: %w", err))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), s.timeout)
	defer cancel()

	name := templates.Key(r.PathValue("category"), r.PathValue("name"))
	text, err := s.provider.CallTemplate(ctx, name, params)
	if err != nil {
		s.fail(w, r, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "text": text})
}

type healthResponse struct {
	Status    string `json:"status"`
	Queued    int    `json:"queued"`
	LiveRoots int64  `json:"live_roots"`
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Rejected  uint64 `json:"rejected"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	select {
	case <-s.exec.Done():
		status = "closed"
	default:
	}

	stats := s.exec.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Queued:    s.exec.Len(),
		LiveRoots: s.exec.LiveRoots(),
		Submitted: stats.Submitted,
		Executed:  stats.Executed,
		Rejected:  stats.Rejected,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	object, _ := cmd.Flags().GetString("templates")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.load(ctx, cmd.ErrOrStderr(), args[0], timeout); err != nil {
		return err
	}

	var provider *templates.Provider
	if object != "" {
		obj, err := h.global(ctx, object)
		if err != nil {
			return err
		}
		provider, err = templates.Load(ctx, h.exec, obj, templates.WithLogger(h.logger.Named("templates")))
		if err != nil {
			obj.Drop()
			return fmt.Errorf("read templates from %s: %w", object, err)
		}
		defer provider.Close()
	}

	srv := newServer(h, timeout, provider)
	defer srv.close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "hostcall server listening on %s\n", httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
