package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	assistantCtl "develevate/internal/assistant/controller"
	assistantSvc "develevate/internal/assistant/service"
	"develevate/internal/common/cache"
	commonmw "develevate/internal/common/http/middleware"
	"develevate/internal/common/mq"
	"develevate/internal/common/ratelimit"
	"develevate/internal/execution/controller"
	"develevate/internal/execution/judge"
	"develevate/internal/execution/metrics"
	"develevate/internal/execution/repository"
	"develevate/internal/execution/result"
	"develevate/internal/execution/service"
	appErr "develevate/pkg/errors"
	"develevate/pkg/utils/logger"
	"develevate/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

const (
	defaultConfigPath = "configs/execution_service.yaml"
	defaultEnvPath    = ".env"
)

// components is everything the HTTP layer needs.
type components struct {
	sessions  *service.Sessions
	runs      *repository.RunRepository
	languages *judge.Languages
	limiter   commonmw.Limiter
	assistant *assistantSvc.Service
	metrics   *metrics.Metrics
	cache     cache.Cache
}

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Path to optional .env file")
	flag.Parse()

	if err := loadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load env failed: %v\n", err)
		return
	}
	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()
	if appCfg.Judge.HTTP.APIKey == "" {
		logger.Warn(ctx, "judge api key is not set", zap.String("env", judgeAPIKeyEnv))
	}

	comps := components{metrics: metrics.New()}

	var redisCache *cache.RedisCache
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(appCfg.Redis)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		comps.cache = redisCache
		comps.runs, err = repository.NewRunRepository(redisCache, appCfg.Execution.Runs)
		if err != nil {
			logger.Error(ctx, "init run repository failed", zap.Error(err))
			return
		}
		comps.limiter = ratelimit.NewFixedWindow(redisCache, appCfg.Execution.RunRate.Window, appCfg.Redis.ReadTimeout)
	} else {
		logger.Warn(ctx, "redis is not configured; run history and rate limits are disabled")
	}

	var observers []service.RunObserver
	if comps.runs != nil {
		observers = append(observers, comps.runs)
	}

	var mqClient *mq.KafkaQueue
	if len(appCfg.Kafka.Brokers) > 0 {
		mqClient, err = mq.NewKafkaQueue(appCfg.Kafka)
		if err != nil {
			logger.Error(ctx, "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mqClient.Close()
		}()
		observers = append(observers, repository.NewMQRunEventPublisher(mqClient, appCfg.Execution.RunFinishedTopic))

		if comps.runs != nil {
			recorder := repository.NewHistoryRecorder(comps.runs)
			if err := recorder.Subscribe(ctx, mqClient, appCfg.Execution.RunFinishedTopic, appCfg.Execution.HistoryGroup); err != nil {
				logger.Error(ctx, "subscribe run finished topic failed", zap.Error(err))
				return
			}
		}
	}

	comps.languages = judge.DefaultLanguages()
	if len(appCfg.Judge.Languages) > 0 {
		comps.languages = judge.NewLanguages(appCfg.Judge.Languages, appCfg.Judge.DefaultLanguage)
	}
	policy, err := result.ParseOutputPolicy(appCfg.Judge.OutputPolicy)
	if err != nil {
		logger.Error(ctx, "invalid output policy", zap.Error(err))
		return
	}
	transport, err := judge.NewHTTPTransport(appCfg.Judge.HTTP, nil)
	if err != nil {
		logger.Error(ctx, "init judge transport failed", zap.Error(err))
		return
	}
	client, err := service.NewExecutionClient(service.ExecutionClientConfig{
		Transport:       transport,
		Languages:       comps.languages,
		OutputPolicy:    policy,
		PollInterval:    appCfg.Judge.PollInterval,
		MaxPollAttempts: appCfg.Judge.MaxPollAttempts,
		CallTimeout:     appCfg.Judge.CallTimeout,
		Metrics:         comps.metrics,
	})
	if err != nil {
		logger.Error(ctx, "init execution client failed", zap.Error(err))
		return
	}
	evaluator, err := service.NewEvaluator(service.EvaluatorConfig{
		Executor:    client,
		MaxInFlight: appCfg.Execution.MaxInFlight,
		Metrics:     comps.metrics,
	})
	if err != nil {
		logger.Error(ctx, "init evaluator failed", zap.Error(err))
		return
	}
	comps.sessions, err = service.NewSessions(service.SessionsConfig{
		Executor:        client,
		Evaluator:       evaluator,
		Observers:       observers,
		ObserverTimeout: appCfg.Execution.ObserverTimeout,
		Metrics:         comps.metrics,
		MaxSessions:     appCfg.Execution.MaxSessions,
	})
	if err != nil {
		logger.Error(ctx, "init sessions failed", zap.Error(err))
		return
	}

	if appCfg.Assistant.Enabled {
		completer, err := assistantSvc.NewHTTPClient(appCfg.Assistant.Client, nil)
		if err != nil {
			logger.Error(ctx, "init assistant client failed", zap.Error(err))
			return
		}
		comps.assistant, err = assistantSvc.NewService(completer, appCfg.Assistant.Service)
		if err != nil {
			logger.Error(ctx, "init assistant service failed", zap.Error(err))
			return
		}
	}

	httpServer := buildHTTPServer(appCfg, comps)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "execution http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go evictIdleSessions(shutdownCtx, comps.sessions, appCfg.Execution.SessionIdleTTL)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	drainCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}

func evictIdleSessions(ctx context.Context, sessions *service.Sessions, ttl time.Duration) {
	if ttl <= 0 {
		logger.Warn(ctx, "idle session eviction disabled", zap.Duration("ttl", ttl))
		return
	}
	ticker := time.NewTicker(max(ttl/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.EvictIdle(ttl); n > 0 {
				logger.Info(ctx, "evicted idle sessions", zap.Int("count", n), zap.Int("remaining", sessions.Len()))
			}
		}
	}
}

func buildHTTPServer(cfg *AppConfig, comps components) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", healthz(comps.cache))
	router.GET(cfg.Server.MetricsPath, gin.WrapH(comps.metrics.Handler()))

	api := router.Group("/api/v1")
	runController := controller.NewRunController(comps.sessions, runStore(comps.runs), comps.languages, cfg.Execution.Limits)
	runController.Register(api, controller.RouteOptions{
		Limiter: comps.limiter,
		RunRate: cfg.Execution.RunRate,
	})
	if comps.assistant != nil {
		assistantCtl.NewAssistantController(comps.assistant).Register(api, comps.limiter, cfg.Assistant.Rate)
	}

	var handler http.Handler = router
	if cfg.Server.Gzip {
		handler = gzipExceptUpgrades(router)
	}

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

// gzipExceptUpgrades compresses responses but leaves websocket handshakes untouched.
func gzipExceptUpgrades(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// healthz reports ready once the configured cache answers a ping.
func healthz(store cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				response.Error(c, appErr.Wrapf(err, appErr.ServiceUnavailable, "cache unavailable"))
				return
			}
		}
		response.Success(c, gin.H{"status": "ok"})
	}
}

// runStore avoids handing the controller a typed nil.
func runStore(runs *repository.RunRepository) controller.RunStore {
	if runs == nil {
		return nil
	}
	return runs
}
