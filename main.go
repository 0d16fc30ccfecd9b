package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medicall/config"
	"medicall/database"
	"medicall/database/repository"
	"medicall/handlers"
	"medicall/middleware"
	"medicall/routes"
	"medicall/services/call"
	"medicall/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	defer logger.Sync()

	database.InitDB()

	// repositories.
	db := database.Database()
	appointmentRepo := repository.NewMongoAppointmentRepo(db)
	doctorRepo := repository.NewMongoDoctorApplicationRepo(db)

	// admission gate.
	gate := call.NewAppointmentGate(appointmentRepo, doctorRepo)
	gate.JoinLead = config.AppConfig.JoinLead()
	gate.Location = config.AppConfig.Location()

	// room registry and presence.
	var (
		rooms        call.RoomRegistry
		presence     call.PresenceTracker
		redisClients []*redis.Client
		sharedOnline *call.RedisPresence
	)
	switch config.AppConfig.RoomBackend {
	case "redis":
		client := utils.GetSignalClient()
		redisClients = append(redisClients, client)
		reg, err := call.NewRedisRegistry(context.Background(), client, config.AppConfig.RoomCapacity, logger)
		if err != nil {
			logger.Fatal("main: failed to start redis room registry", zap.Error(err))
		}
		rooms = reg
		sharedOnline = call.NewRedisPresence(client)
		presence = sharedOnline
	default:
		rooms = call.NewMemoryRegistry(config.AppConfig.RoomCapacity)
		presence = call.NewMemoryPresence()
	}
	logger.Info("Call rooms configured",
		zap.String("backend", config.AppConfig.RoomBackend),
		zap.Int("capacity", config.AppConfig.RoomCapacity),
		zap.Duration("joinLead", gate.JoinLead),
		zap.String("timezone", gate.Location.String()))

	metrics := call.NewMetrics(prometheus.DefaultRegisterer)
	ctrl := call.NewController(
		utils.NewTokenVerifier(config.AppConfig.JWTSecret),
		gate,
		rooms,
		presence,
		metrics,
		logger,
		call.Options{
			EventsPerSecond: config.AppConfig.SocketEventsPerSec,
			EventBurst:      config.AppConfig.SocketEventBurst,
			OutboundBuffer:  call.DefaultOutboundBuffer,
		},
	)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	utils.StartHealthMonitor(monitorCtx, 30*time.Second, redisClients, database.MongoClient)
	if sharedOnline != nil {
		sharedOnline.StartHeartbeat(monitorCtx, logger)
	}

	// Create the Gin router.
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware(config.AppConfig.MaxRequestsPerMin))

	// Assemble the handler bundle.
	handlerBundle := &handlers.HandlerBundle{
		SocketAuth:     middleware.SocketAuthMiddleware(ctrl),
		SocketHandler:  handlers.NewSocketHandler(ctrl, config.AppConfig.Origins()).Serve,
		HealthHandler:  handlers.HealthHandler(ctrl),
		MetricsHandler: gin.WrapH(promhttp.Handler()),
	}

	// Register routes with the assembled handler bundle.
	routes.RegisterRoutes(router, handlerBundle, config.AppConfig.Origins())

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; close them first.
	ctrl.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}
	if sharedOnline != nil {
		if err := sharedOnline.Close(ctx); err != nil {
			logger.Warn("main: failed to clear presence", zap.Error(err))
		}
	}
	if err := rooms.Close(); err != nil {
		logger.Warn("main: failed to close room registry", zap.Error(err))
	}
	if err := database.Close(ctx); err != nil {
		logger.Warn("main: failed to disconnect from MongoDB", zap.Error(err))
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
