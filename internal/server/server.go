// Package server wires the HTTP surface: authenticated account API,
// public tokenized invoice views, and processor webhook ingestion.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/faktur/internal/account"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/client"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	"github.com/smallbiznis/faktur/internal/config"
	"github.com/smallbiznis/faktur/internal/invoice"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/notification"
	obsmiddleware "github.com/smallbiznis/faktur/internal/observability/logger"
	"github.com/smallbiznis/faktur/internal/payment"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	"github.com/smallbiznis/faktur/internal/providers"
	"github.com/smallbiznis/faktur/internal/publicinvoice"
	publicinvoicedomain "github.com/smallbiznis/faktur/internal/publicinvoice/domain"
	"github.com/smallbiznis/faktur/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	providers.Module,
	account.Module,
	client.Module,
	invoice.Module,
	notification.Module,
	payment.Module,
	publicinvoice.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine           *gin.Engine
	cfg              config.Config
	db               *gorm.DB
	log              *zap.Logger
	accountSvc       accountdomain.Service
	clientSvc        clientdomain.Service
	invoiceSvc       invoicedomain.Service
	paymentSvc       paymentdomain.Service
	publicInvoiceSvc publicinvoicedomain.Service
	publicLimiter    *ratelimit.PublicViewLimiter
	webhookLimiter   *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	DB               *gorm.DB
	Log              *zap.Logger
	AccountSvc       accountdomain.Service
	ClientSvc        clientdomain.Service
	InvoiceSvc       invoicedomain.Service
	PaymentSvc       paymentdomain.Service
	PublicInvoiceSvc publicinvoicedomain.Service
	PublicLimiter    *ratelimit.PublicViewLimiter `optional:"true"`
	WebhookLimiter   *ratelimit.WebhookLimiter    `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		db:               p.DB,
		log:              p.Log.Named("http.server"),
		accountSvc:       p.AccountSvc,
		clientSvc:        p.ClientSvc,
		invoiceSvc:       p.InvoiceSvc,
		paymentSvc:       p.PaymentSvc,
		publicInvoiceSvc: p.PublicInvoiceSvc,
		publicLimiter:    p.PublicLimiter,
		webhookLimiter:   p.WebhookLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	api.GET("/account", s.GetAccount)
	api.PATCH("/account", s.UpdateAccount)

	api.GET("/clients", s.ListClients)
	api.POST("/clients", s.CreateClient)
	api.GET("/clients/:id", s.GetClientByID)
	api.PATCH("/clients/:id", s.UpdateClient)

	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.GET("/invoices/:id/pdf", s.GetInvoicePDF)
	api.GET("/invoices/:id/events", s.ListInvoiceEvents)
	api.PUT("/invoices/:id/items", s.ReplaceInvoiceItems)
	api.POST("/invoices/:id/send", s.SendInvoice)
	api.POST("/invoices/:id/pay", s.MarkInvoicePaid)
	api.POST("/invoices/:id/refund", s.RefundInvoice)
	api.DELETE("/invoices/:id", s.SoftDeleteInvoice)
	api.POST("/invoices/:id/restore", s.RestoreInvoice)
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/i", s.PublicViewRateLimit())

	public.GET("/:token", s.GetPublicInvoice)
	public.GET("/:token/pdf", s.GetPublicInvoicePDF)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}
