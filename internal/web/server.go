package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/config"
	"image-optimizer-go/internal/optimizer"
	"image-optimizer-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	optimizer  optimizer.Optimizer
	router     *mux.Router
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// httpServer is set by Start; stopped makes a later Start fail.
	srvMutex   sync.Mutex
	httpServer *http.Server
	stopped    bool

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	cancelRun      context.CancelFunc
	currentStats   *statistics.Statistics
	done           chan struct{}
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type OptimizeRequest struct {
	Directory   string `json:"directory"`
	Format      string `json:"format"`
	TargetSize  int64  `json:"target_size,omitempty"`
	DeleteAfter bool   `json:"delete_after"`
}

type FileResult struct {
	SourcePath string `json:"source_path"`
	OutputPath string `json:"output_path"`
	Format     string `json:"format"`
	Size       int64  `json:"size"`
	Quality    int    `json:"quality"`
	Attempts   int    `json:"attempts"`
	Success    bool   `json:"success"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, opt optimizer.Optimizer) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		optimizer: opt,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start serves the API on port until Stop is called. It returns
// http.ErrServerClosed after Stop, including when Stop ran first.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)

	s.srvMutex.Lock()
	if s.stopped {
		s.srvMutex.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.httpServer = srv
	s.srvMutex.Unlock()

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return srv.ListenAndServe()
}

// Stop cancels a running optimization and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.RLock()
	cancel := s.cancelRun
	s.operationMutex.RUnlock()
	if cancel != nil {
		cancel()
	}

	s.srvMutex.Lock()
	s.stopped = true
	srv := s.httpServer
	s.srvMutex.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (s *Server) Wait() {
	s.operationMutex.RLock()
	done := s.done
	s.operationMutex.RUnlock()
	if done != nil {
		<-done
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	formats := codec.SupportedFormats()
	data := make([]map[string]interface{}, 0, len(formats))
	for _, f := range formats {
		data = append(data, map[string]interface{}{
			"format":      f.Format.String(),
			"encoding":    f.Encoding,
			"lossy":       f.Lossy,
			"description": f.Description,
		})
	}
	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary": stats.GetSummary(),
			"totals":  stats.Snapshot(),
			"formats": stats.GetFormatBreakdown(),
			"errors":  stats.GetErrorSummary(),
		},
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Directory == "" {
		s.writeError(w, "Directory is required", http.StatusBadRequest)
		return
	}
	dir, err := filepath.Abs(req.Directory)
	if err != nil {
		s.writeError(w, "Invalid directory", http.StatusBadRequest)
		return
	}
	req.Directory = dir
	target, err := codec.ParseTarget(req.Format)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TargetSize < 0 {
		s.writeError(w, "target_size must be positive", http.StatusBadRequest)
		return
	}
	if req.TargetSize == 0 {
		req.TargetSize = s.cfg.TargetSize
	}

	if info, err := os.Stat(req.Directory); err != nil || !info.IsDir() {
		s.writeError(w, "Directory does not exist", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stats := statistics.NewStatistics(uuid.NewString())

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		cancel()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.cancelRun = cancel
	s.currentStats = stats
	s.done = make(chan struct{})
	done := s.done
	s.operationMutex.Unlock()

	go s.runOptimizeAsync(ctx, req, target, stats, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Optimization started",
		Data:    map[string]interface{}{"run_id": stats.RunID},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	cancel := s.cancelRun
	s.operationMutex.RUnlock()

	if !running || cancel == nil {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}
	cancel()

	s.broadcastWSMessage("run_stopping", map[string]interface{}{
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopping",
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

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runOptimizeAsync(ctx context.Context, req OptimizeRequest, target codec.Target, stats *statistics.Statistics, done chan struct{}) {
	defer close(done)
	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.cancelRun = nil
		s.operationMutex.Unlock()
	}()

	s.broadcastWSMessage("run_started", map[string]interface{}{
		"run_id":       stats.RunID,
		"directory":    req.Directory,
		"format":       target.String(),
		"target_size":  req.TargetSize,
		"delete_after": req.DeleteAfter,
	})

	finder := batch.NewWalkFinder(s.cfg.Discovery.Extensions, s.cfg.Discovery.ExcludeDirs, s.cfg.Discovery.SkipOptimized)
	driver := batch.NewDriver(finder, s.optimizer, s.log, batch.Options{
		TargetSize:  req.TargetSize,
		DeleteAfter: req.DeleteAfter,
		Stdout:      io.Discard,
		Stderr:      io.Discard,
		OnResult: func(res optimizer.Result) {
			s.broadcastWSMessage("file_result", FileResult{
				SourcePath: res.SourcePath,
				OutputPath: res.OutputPath,
				Format:     res.Format.String(),
				Size:       res.Size,
				Quality:    res.Quality,
				Attempts:   res.Attempts,
				Success:    res.Success,
			})
		},
		OnError: func(path string, err error) {
			s.broadcastWSMessage("file_error", map[string]interface{}{
				"source_path": path,
				"error":       err.Error(),
			})
		},
	})

	summary, err := driver.RunWith(ctx, req.Directory, target, stats)
	if err != nil {
		s.broadcastWSMessage("run_error", map[string]interface{}{
			"run_id": stats.RunID,
			"error":  err.Error(),
		})
		return
	}
	s.broadcastWSMessage("run_completed", summary)
}

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
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
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
