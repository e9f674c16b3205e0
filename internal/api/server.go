package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"signal-core/internal/engine"
	"signal-core/internal/logger"
	"signal-core/internal/signal"
	"signal-core/internal/state"
	"signal-core/pkg/db"
)

// Server exposes the webhook and the read-only status API.
type Server struct {
	Router *gin.Engine
	Engine *engine.Engine
	Store  *state.Store
	DB     *db.Database
	Log    *logger.Logger
}

func NewServer(eng *engine.Engine, store *state.Store, database *db.Database, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(log, 20, 50))
	r.Use(TimeoutMiddleware(30 * time.Second))

	s := &Server{
		Router: r,
		Engine: eng,
		Store:  store,
		DB:     database,
		Log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.POST("/webhook", s.postWebhook)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/signals", s.getSignals)
		api.GET("/orders", s.getOrders)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// postWebhook receives alert payloads, normalizes them and hands the
// intent to the engine. Malformed alerts never reach the exchange.
func (s *Server) postWebhook(c *gin.Context) {
	var alert signal.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "invalid JSON payload",
			"status":  "error",
		})
		return
	}

	intent, err := signal.Normalize(alert)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": err.Error(),
			"status":  "error",
		})
		return
	}

	res, err := s.Engine.HandleIntent(c.Request.Context(), intent)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, signal.ErrMalformedSignal):
			status = http.StatusBadRequest
		case errors.Is(err, engine.ErrOrderRejected), errors.Is(err, engine.ErrAuth):
			status = http.StatusBadGateway
		}
		s.Log.WithComponent("api").WithSymbol(intent.Symbol).WithError(err).Error("signal processing failed")
		c.JSON(status, gin.H{
			"message": err.Error(),
			"status":  "error",
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

type positionView struct {
	Symbol            string  `json:"symbol"`
	Amount            float64 `json:"amount"`
	EntryPrice        float64 `json:"entry_price"`
	BestPrice         float64 `json:"best_price"`
	TargetPrice       float64 `json:"target_price"`
	Phase             string  `json:"phase"`
	StopOrderID       string  `json:"stop_order_id,omitempty"`
	StopPrice         float64 `json:"stop_price,omitempty"`
	TakeProfitOrderID string  `json:"take_profit_order_id,omitempty"`
}

func (s *Server) getStatus(c *gin.Context) {
	snap := s.Store.Snapshot()
	open := 0
	for _, sym := range snap {
		if sym.Position.Amount != 0 {
			open++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "running",
		"open_positions": open,
		"tracked":        len(snap),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	snap := s.Store.Snapshot()
	out := make([]positionView, 0, len(snap))
	for name, sym := range snap {
		if sym.Position.Amount == 0 && sym.Orders.StopOrderID == "" && sym.Orders.TakeProfitOrderID == "" {
			continue
		}
		out = append(out, positionView{
			Symbol:            name,
			Amount:            sym.Position.Amount,
			EntryPrice:        sym.Position.EntryPrice,
			BestPrice:         sym.Position.BestPrice,
			TargetPrice:       sym.Position.TargetPrice,
			Phase:             string(sym.Phase),
			StopOrderID:       sym.Orders.StopOrderID,
			StopPrice:         sym.Orders.StopPrice,
			TakeProfitOrderID: sym.Orders.TakeProfitOrderID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getSignals(c *gin.Context) {
	signals, err := s.DB.RecentSignals(c.Request.Context(), 50)
	if err != nil {
		s.Log.WithComponent("api").WithError(err).Error("recent signals query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "query failed", "status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (s *Server) getOrders(c *gin.Context) {
	orders, err := s.DB.RecentOrders(c.Request.Context(), 50)
	if err != nil {
		s.Log.WithComponent("api").WithError(err).Error("recent orders query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "query failed", "status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// HTTPServer wraps the router in an http.Server so main can own
// graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
