package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/charging-station-controller/internal/business/chargepoint"
	"github.com/charging-platform/charging-station-controller/internal/domain/connection"
	"github.com/charging-platform/charging-station-controller/internal/logger"
)

// Controller 状态接口读取的会话控制器视图
type Controller interface {
	Status() chargepoint.Status
	EVSEs() []chargepoint.EVSEState
}

// LinkStats 到CSMS的链路统计
type LinkStats interface {
	Snapshot() connection.Stats
}

// Server 本地只读状态接口
type Server struct {
	controller Controller
	link       LinkStats
	logger     *logger.Logger
	startTime  time.Time
	http       *http.Server
}

// NewServer 创建状态接口；link 可为空
func NewServer(addr string, controller Controller, link LinkStats, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		controller: controller,
		link:       link,
		logger:     log.WithComponent("api"),
		startTime:  time.Now(),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes 注册所有路由
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Get("/status", s.GetStatus)
	r.Get("/evses", s.ListEVSEs)
	r.Get("/evses/{evseId}", s.GetEVSE)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start 在后台监听
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Status API listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Status API stopped: %v", err)
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status    string  `json:"status"`
	Connected bool    `json:"connected"`
	Uptime    float64 `json:"uptime_seconds"`
}

// Health 进程存活即返回200
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Status()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Connected: status.Connected,
		Uptime:    time.Since(s.startTime).Seconds(),
	})
}

type statusResponse struct {
	chargepoint.Status
	Link *connection.Stats `json:"link,omitempty"`
}

// GetStatus 注册状态、连接与队列深度
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.controller.Status()}
	if s.link != nil {
		stats := s.link.Snapshot()
		resp.Link = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListEVSEs 每个EVSE的有效可用性与交易
func (s *Server) ListEVSEs(w http.ResponseWriter, r *http.Request) {
	evses := s.controller.EVSEs()
	if evses == nil {
		evses = []chargepoint.EVSEState{}
	}
	writeJSON(w, http.StatusOK, evses)
}

// GetEVSE 单个EVSE
func (s *Server) GetEVSE(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "evseId"))
	if err != nil {
		http.Error(w, "invalid evse id", http.StatusBadRequest)
		return
	}
	for _, evse := range s.controller.EVSEs() {
		if evse.ID == id {
			writeJSON(w, http.StatusOK, evse)
			return
		}
	}
	http.NotFound(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
