package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"video-scanner-go/internal/config"
	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/logger"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/scanner"
	"video-scanner-go/internal/store"
)

// History is the run history the server reads and writes.
type History interface {
	SaveRun(r *report.RunReport) error
	ListRuns(limit int) ([]store.RunSummary, error)
	GetRun(id string) (*report.RunReport, error)
}

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	extractor  extractor.DimensionExtractor
	history    History
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
	scans   sync.WaitGroup

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	stopping       bool
	current        *scanProgress
	lastReport     *report.RunReport
}

// scanProgress holds live counters for the running scan.
type scanProgress struct {
	SourceDirectory string
	Criteria        string
	StartedAt       time.Time
	total           atomic.Int64
	done            atomic.Int64
	matches         atomic.Int64
	errors          atomic.Int64
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ScanRequest overrides parts of the server configuration for one scan.
// Empty fields keep the configured value.
type ScanRequest struct {
	SourceDirectory string `json:"source_directory"`
	Resolution      string `json:"resolution"`
	Comparison      string `json:"comparison"`
	Workers         *int   `json:"workers,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer returns a Server scanning with ext. history may be nil.
func NewServer(cfg *config.Config, ext extractor.DimensionExtractor, history History, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		log:       log,
		extractor: ext,
		history:   history,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		baseCtx: ctx,
		cancel:  cancel,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/reports", s.handleListReports).Methods("GET")
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods("GET")
	api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.operationMutex.Lock()
	s.httpServer = srv
	s.operationMutex.Unlock()

	s.log.Infof("Starting web server on http://localhost%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down, cancels a running scan and waits for it
// to finish writing its report.
func (s *Server) Stop(ctx context.Context) error {
	// Scans are only admitted while stopping is false, so no scans.Add can
	// race with the Wait below.
	s.operationMutex.Lock()
	s.stopping = true
	srv := s.httpServer
	s.operationMutex.Unlock()
	s.cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.scans.Wait()

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	current := s.current
	last := s.lastReport
	s.operationMutex.RUnlock()

	data := map[string]interface{}{
		"running": running,
	}
	if current != nil {
		data["progress"] = map[string]interface{}{
			"source_directory": current.SourceDirectory,
			"criteria":         current.Criteria,
			"started_at":       current.StartedAt,
			"total_files":      current.total.Load(),
			"processed_files":  current.done.Load(),
			"matching_files":   current.matches.Load(),
			"error_files":      current.errors.Load(),
		}
	}
	if last != nil {
		data["last_run"] = reportSummary(last)
	}
	if cached, ok := s.extractor.(extractor.CachedDimensionExtractor); ok {
		data["cache"] = cached.GetCacheStats()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := s.scanConfig(req)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if info, err := os.Stat(cfg.SourceDirectory); err != nil || !info.IsDir() {
		s.writeError(w, "Source directory does not exist", http.StatusBadRequest)
		return
	}

	spec, _ := cfg.Spec()
	progress := &scanProgress{
		SourceDirectory: cfg.SourceDirectory,
		Criteria:        spec.Description(),
		StartedAt:       time.Now(),
	}

	s.operationMutex.Lock()
	if s.stopping {
		s.operationMutex.Unlock()
		s.writeError(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Scan already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.current = progress
	s.scans.Add(1)
	s.operationMutex.Unlock()

	go s.runScanAsync(cfg, progress)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Scan started",
		Data: map[string]interface{}{
			"source_directory": cfg.SourceDirectory,
			"criteria":         progress.Criteria,
		},
	})
}

// scanConfig applies req on top of a copy of the server configuration.
func (s *Server) scanConfig(req ScanRequest) (*config.Config, error) {
	cfg := *s.cfg
	cfg.Extensions = append([]string(nil), s.cfg.Extensions...)
	cfg.Report.Formats = append([]string(nil), s.cfg.Report.Formats...)

	if req.SourceDirectory != "" {
		cfg.SourceDirectory = req.SourceDirectory
	}
	if req.Resolution != "" {
		cfg.Resolution = req.Resolution
	}
	if req.Comparison != "" {
		cfg.Comparison = req.Comparison
	}
	if req.Workers != nil {
		cfg.Performance.WorkerThreads = *req.Workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) runScanAsync(cfg *config.Config, progress *scanProgress) {
	defer s.scans.Done()

	s.broadcastWSMessage("scan_started", map[string]interface{}{
		"source_directory": progress.SourceDirectory,
		"criteria":         progress.Criteria,
	})

	onProgress := func(done, total int, res report.FileResult) {
		progress.total.Store(int64(total))
		progress.done.Add(1)
		switch res.Kind {
		case report.KindMatch:
			progress.matches.Add(1)
		case report.KindError:
			progress.errors.Add(1)
		}

		data := map[string]interface{}{
			"done":  done,
			"total": total,
			"file":  res.Path,
			"kind":  res.Kind.String(),
		}
		if res.Match != nil {
			data["width"] = res.Match.Width
			data["height"] = res.Match.Height
		}
		if res.Err != nil {
			data["error"] = res.Err.Error
		}
		s.broadcastWSMessage("file_processed", data)
	}

	var runStore scanner.RunStore
	if s.history != nil {
		runStore = s.history
	}
	result, err := scanner.New(cfg, s.extractor, s.log, runStore, onProgress).Scan(s.baseCtx)

	s.operationMutex.Lock()
	s.isRunning = false
	if result != nil {
		s.lastReport = result.Report
	}
	s.operationMutex.Unlock()

	if err != nil {
		logger.WithOperation(s.log, "scan").Errorf("Scan failed: %v", err)
		s.broadcastWSMessage("scan_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	data := reportSummary(result.Report)
	data["report_files"] = result.Paths
	if result.DiscoveryErr != nil {
		data["discovery_error"] = result.DiscoveryErr.Error()
	}
	s.broadcastWSMessage("scan_completed", data)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, "Run history is not enabled", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(limit)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    runs,
	})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, "Run history is not enabled", http.StatusServiceUnavailable)
		return
	}

	id := mux.Vars(r)["id"]
	run, err := s.history.GetRun(id)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to load run: %v", err), http.StatusInternalServerError)
		return
	}
	if run == nil {
		s.writeError(w, "Run not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    run,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	cached, ok := s.extractor.(extractor.CachedDimensionExtractor)
	if !ok {
		s.writeError(w, "Probe cache is not enabled", http.StatusConflict)
		return
	}
	cached.ClearCache()

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Probe cache cleared",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

// broadcastWSMessage sends a message to every connected client. Writes are
// serialized because a websocket.Conn allows only one concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func reportSummary(r *report.RunReport) map[string]interface{} {
	return map[string]interface{}{
		"id":               r.ID,
		"scan_timestamp":   r.ScanTimestamp,
		"source_directory": r.SourceDirectory,
		"criteria":         r.Criteria,
		"total_files":      r.TotalFiles,
		"processed_files":  r.ProcessedFiles,
		"error_files":      r.ErrorFiles,
		"matching_files":   r.MatchCount(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
