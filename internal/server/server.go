package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ckd-backend/internal/artifact"
	"ckd-backend/internal/handler"
	"ckd-backend/internal/metrics"
	"ckd-backend/internal/middleware"
	"ckd-backend/internal/models"
	"ckd-backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Auth       service.AuthService
	Users      service.UserService
	Records    service.RecordService
	Import     service.ImportService
	Prediction service.PredictionService
	Retrain    service.RetrainService
}

type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewServer builds the router. mode is a gin mode; empty keeps gin's default.
func NewServer(svc Services, db handler.Pinger, registry *artifact.Registry, m *metrics.Metrics, mode string, logger *zap.Logger) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger, m))

	s := &Server{router: router, logger: logger, metrics: m}
	s.setupRoutes(svc, db, registry)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes(svc Services, db handler.Pinger, registry *artifact.Registry) {
	health := handler.NewHealthHandler(db, registry)
	authHandler := handler.NewAuthHandler(svc.Auth, s.logger)
	userHandler := handler.NewUserHandler(svc.Users, s.logger)
	recordHandler := handler.NewRecordHandler(svc.Records, svc.Import, s.logger)
	predictionHandler := handler.NewPredictionHandler(svc.Prediction, s.logger)
	retrainHandler := handler.NewRetrainHandler(svc.Retrain, s.logger)

	s.router.GET("/ping", health.Ping)
	s.router.GET("/healthz", health.Healthz)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	authRequired := s.router.Group("/api")
	authRequired.Use(middleware.AuthMiddleware(svc.Auth, s.logger))
	{
		authRequired.POST("/auth/logout", authHandler.Logout)

		authRequired.POST("/predict/", predictionHandler.Predict)
		authRequired.GET("/model-info/", predictionHandler.ModelInfo)

		authRequired.GET("/records/me", recordHandler.GetOwn)
		authRequired.POST("/records/", recordHandler.SaveOwn)
		authRequired.GET("/patient/me/", userHandler.Me)
		authRequired.PUT("/account", userHandler.UpdateAccount)
	}

	admin := authRequired.Group("")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/retrain/", retrainHandler.Retrain)
		admin.GET("/retrain/progress", retrainHandler.Progress)
		admin.GET("/retrain/current", retrainHandler.Current)
		admin.DELETE("/retrain/current", retrainHandler.Cancel)
		admin.GET("/retrain/logs", retrainHandler.Logs)

		admin.GET("/users/", userHandler.List)
		admin.GET("/users/:user_id/", userHandler.Get)
		admin.GET("/records/:user_id/", recordHandler.GetForUser)
		admin.PUT("/records/:user_id/", recordHandler.UpdateForUser)
		admin.POST("/records/import", recordHandler.Import)
	}
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
