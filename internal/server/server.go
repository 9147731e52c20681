package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tably/internal/balance"
	balancedomain "github.com/smallbiznis/tably/internal/balance/domain"
	"github.com/smallbiznis/tably/internal/config"
	"github.com/smallbiznis/tably/internal/ledger"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/metrics"
	"github.com/smallbiznis/tably/internal/ratelimit"
	"github.com/smallbiznis/tably/internal/receipt"
	receiptdomain "github.com/smallbiznis/tably/internal/receipt/domain"
)

var Module = fx.Module("http.server",
	metrics.Module,
	ratelimit.Module,
	receipt.Module,
	ledger.Module,
	balance.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain and the
// operational endpoints every deployment gets.
func NewEngine(log *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggerMiddleware(log))
	r.Use(MetricsMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func registerGin(log *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *gin.Engine {
	return NewEngine(log, m, gatherer)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	genID        *snowflake.Node
	receiptSvc   receiptdomain.Service
	ledgerSvc    ledgerdomain.Service
	balanceSvc   balancedomain.Service
	writeLimiter *ratelimit.WriteLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger
	GenID        *snowflake.Node
	ReceiptSvc   receiptdomain.Service
	LedgerSvc    ledgerdomain.Service
	BalanceSvc   balancedomain.Service
	WriteLimiter *ratelimit.WriteLimiter
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		receiptSvc:   p.ReceiptSvc,
		ledgerSvc:    p.LedgerSvc,
		balanceSvc:   p.BalanceSvc,
		writeLimiter: p.WriteLimiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.Use(UserContextMiddleware())

	writes := s.writeRateLimitMiddleware()

	receipts := api.Group("/receipts")
	{
		receipts.POST("", writes, s.CreateReceipt)
		receipts.GET("", s.ListReceipts)
		receipts.GET("/:id", s.GetReceiptByID)
		receipts.PATCH("/:id", writes, s.UpdateReceipt)
		receipts.POST("/:id/members", writes, s.AddMember)
		receipts.DELETE("/:id/members/:user_id", writes, s.RemoveMember)
		receipts.POST("/:id/finalize", writes, s.FinalizeReceipt)
		receipts.POST("/:id/unfinalize", writes, s.UnfinalizeReceipt)
		receipts.GET("/:id/ledger", s.GetReceiptLedger)
	}

	api.POST("/ledger/:id/settle", writes, s.SettleLedgerEntry)
	api.GET("/users/:id/balance", s.GetUserBalance)
}
