package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/warelogic/counting_backend/config"
	"bitbucket.org/warelogic/counting_backend/erpsync"
	"bitbucket.org/warelogic/counting_backend/middlewares"
	"bitbucket.org/warelogic/counting_backend/models"
	"bitbucket.org/warelogic/counting_backend/utils"
	"bitbucket.org/warelogic/counting_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("counting-backend")

// gateway is the shared ERP adapter. Nil until env credentials are present;
// endpoints that need it hard-fail with 503, context enrichment degrades.
var gateway erpsync.Gateway

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "login and password are required"})
			return
		}

		worker, err := models.GetWorkerByLogin(c.Request.Context(), config.GetDB(), req.Login)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		if worker == nil || worker.IsActive == nil || !*worker.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if err := utils.ComparePassword(worker.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token, err := utils.JwtGenerate(worker.ID, worker.Name, string(worker.Role))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"worker": gin.H{
				"id":         worker.ID,
				"name":       worker.Name,
				"role":       worker.Role,
				"daily_goal": worker.DailyGoal,
			},
		})
	}
}

func nextItemHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID, _ := utils.GetWorkerIdFromContext(c.Request.Context())

		item, err := workflow.SelectNext(c.Request.Context(), config.GetDB(), logger, workerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment failed"})
			return
		}
		if item == nil {
			c.JSON(http.StatusOK, gin.H{"item": nil, "message": "queue is empty for this worker"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	}
}

type registerCountRequest struct {
	QueueItemId int             `json:"queue_item_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	StartedAt   *time.Time      `json:"started_at"`
}

func registerCountHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID, _ := utils.GetWorkerIdFromContext(c.Request.Context())

		var req registerCountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "queue_item_id and quantity are required"})
			return
		}
		if req.Quantity.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity cannot be negative"})
			return
		}
		startedAt := time.Now()
		if req.StartedAt != nil {
			startedAt = *req.StartedAt
		}

		result, err := workflow.RegisterCount(c.Request.Context(), config.GetDB(), logger, gateway, workerID, req.QueueItemId, req.Quantity, startedAt)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func notFoundReportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID, _ := utils.GetWorkerIdFromContext(c.Request.Context())
		itemID, err := strconv.Atoi(c.Param("id"))
		if err != nil || itemID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
			return
		}

		result, err := workflow.ReportNotFound(c.Request.Context(), config.GetDB(), logger, gateway, workerID, itemID)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type problemReportRequest struct {
	Description string `json:"description" binding:"required"`
}

func problemReportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID, _ := utils.GetWorkerIdFromContext(c.Request.Context())
		itemID, err := strconv.Atoi(c.Param("id"))
		if err != nil || itemID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
			return
		}
		var req problemReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
			return
		}

		if err := workflow.ReportProblem(c.Request.Context(), config.GetDB(), logger, workerID, itemID, req.Description); err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "REPORTED"})
	}
}

func operatorStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID, _ := utils.GetWorkerIdFromContext(c.Request.Context())
		stats, err := models.GetOperatorStats(c.Request.Context(), config.GetDB(), workerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

const supervisorStatsCacheKey = "stats:supervisor"

func supervisorStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// The dashboard polls this; a short Redis cache keeps the heavy
		// aggregation off the hot path. Cache misses are best-effort.
		var cached models.SupervisorStats
		if hit, err := config.GetRedisObject(supervisorStatsCacheKey, &cached); err == nil && hit {
			c.JSON(http.StatusOK, cached)
			return
		}

		stats, err := models.GetSupervisorStats(c.Request.Context(), config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
			return
		}
		_ = config.SetRedisObject(supervisorStatsCacheKey, stats, 30*time.Second)
		c.JSON(http.StatusOK, stats)
	}
}

func liveStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateway == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp gateway is not configured"})
			return
		}
		itemID, err := strconv.Atoi(c.Param("id"))
		if err != nil || itemID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid queue item id"})
			return
		}
		var item models.QueueItem
		if err := config.GetDB().WithContext(c.Request.Context()).First(&item, itemID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
			return
		}

		stock, err := gateway.FetchLiveStock(c.Request.Context(), item.ProductCode, item.CompanyCode, item.LocationCode)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "erp live stock lookup failed"})
			return
		}
		c.JSON(http.StatusOK, stock)
	}
}

func jobStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := models.LastSuccessfulJob(c.Request.Context(), config.GetDB(), models.JobTypeSnapshotSync)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job log query failed"})
			return
		}
		flush, err := models.LastSuccessfulJob(c.Request.Context(), config.GetDB(), models.JobTypeAdjustmentFlush)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job log query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"last_snapshot_sync":    snapshot,
			"last_adjustment_flush": flush,
		})
	}
}

type listQueueRequest struct {
	Status string `form:"status" binding:"omitempty,queue_status"`
	Limit  int    `form:"limit" binding:"omitempty,gt=0"`
}

func listQueueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req listQueueRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status or limit"})
			return
		}
		var status *models.QueueStatus
		if req.Status != "" {
			s := models.QueueStatus(strings.ToUpper(req.Status))
			status = &s
		}

		items, err := models.ListQueue(c.Request.Context(), config.GetDB(), status, req.Limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "queue query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
	}
}

func listDivergencesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		divergences, err := models.PendingDivergences(c.Request.Context(), config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "divergence query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"divergences": divergences, "total": len(divergences)})
	}
}

func listReportedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := models.ListReportedItems(c.Request.Context(), config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reported query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
	}
}

type resolveRequest struct {
	Action string `json:"action" binding:"required,resolution_action"`
	Note   string `json:"note"`
}

// registerValidators adds the domain enum checks to gin's binding validator.
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("resolution_action", func(fl validator.FieldLevel) bool {
			switch workflow.ResolutionAction(fl.Field().String()) {
			case workflow.ResolutionApprove, workflow.ResolutionRecount, workflow.ResolutionFinalizeAnalysis:
				return true
			}
			return false
		})
		_ = v.RegisterValidation("queue_status", func(fl validator.FieldLevel) bool {
			switch models.QueueStatus(strings.ToUpper(fl.Field().String())) {
			case models.QueueStatusPending, models.QueueStatusInCount, models.QueueStatusDone,
				models.QueueStatusReported, models.QueueStatusAuditLocked:
				return true
			}
			return false
		})
	}
}

func resolveDivergenceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		divergenceID, err := strconv.Atoi(c.Param("id"))
		if err != nil || divergenceID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid divergence id"})
			return
		}
		var req resolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action must be APPROVE, RECOUNT or FINALIZE_ANALYSIS"})
			return
		}

		err = workflow.ResolveDivergence(c.Request.Context(), config.GetDB(), logger, divergenceID, workflow.ResolutionAction(req.Action), req.Note)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"divergence_id": divergenceID, "action": req.Action})
	}
}

func retryAdjustmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		divergenceID, err := strconv.Atoi(c.Param("id"))
		if err != nil || divergenceID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid divergence id"})
			return
		}
		if err := workflow.RetryAdjustment(c.Request.Context(), config.GetDB(), divergenceID); err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"divergence_id": divergenceID, "adjust_status": models.AdjustStatusPending})
	}
}

func syncAdjustmentsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateway == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp gateway is not configured"})
			return
		}
		db := config.GetDB()
		if err := workflow.AcquireJobLock(db, "adjustment_flush"); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "another sync is running"})
			return
		}
		defer workflow.ReleaseJobLock(db, "adjustment_flush")

		result, err := workflow.SyncPendingAdjustments(c.Request.Context(), db, logger, gateway)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "adjustment sync failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func syncSnapshotsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateway == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp gateway is not configured"})
			return
		}
		db := config.GetDB()
		if err := workflow.AcquireJobLock(db, "snapshot_sync"); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "another sync is running"})
			return
		}
		defer workflow.ReleaseJobLock(db, "snapshot_sync")

		stats, err := erpsync.SyncAllSnapshots(c.Request.Context(), db, logger, gateway)
		if err != nil {
			if errors.Is(err, erpsync.ErrSyncConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot sync failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func cycleResetHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gateway == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp gateway is not configured"})
			return
		}
		db := config.GetDB()
		if err := workflow.AcquireJobLock(db, "snapshot_sync"); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "another sync is running"})
			return
		}
		defer workflow.ReleaseJobLock(db, "snapshot_sync")

		stats, err := erpsync.ResetCycle(c.Request.Context(), db, logger, gateway)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cycle reset failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

type dailyGoalRequest struct {
	Goal int `json:"goal" binding:"required,gt=0"`
}

func setDailyGoalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dailyGoalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "goal must be a positive integer"})
			return
		}
		err := models.UpsertConfig(c.Request.Context(), config.GetDB(),
			models.ConfigKeyGlobalDailyGoal, strconv.Itoa(req.Goal), "daily count goal shared by all active operators")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save goal"})
			return
		}
		// The goal feeds the supervisor dashboard; drop the cached view so
		// the change is visible on the next poll.
		_ = config.RemoveRedisKey(supervisorStatsCacheKey)
		c.JSON(http.StatusOK, gin.H{"goal": req.Goal})
	}
}

// writeWorkflowError maps engine sentinel errors to HTTP statuses. The
// messages are suitable for direct display.
func writeWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrDuplicateAction):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	registerValidators()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationIdMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())

	operator := r.Group("/", middlewares.RequireWorker())
	{
		operator.POST("/queue/next", nextItemHandler(logger))
		operator.POST("/counts", registerCountHandler(logger))
		operator.POST("/queue/:id/not-found", notFoundReportHandler(logger))
		operator.POST("/queue/:id/problem", problemReportHandler(logger))
		operator.GET("/stats/me", operatorStatsHandler())
	}

	supervisor := r.Group("/", middlewares.RequireWorker(), middlewares.RequireRole(models.WorkerRoleSupervisor))
	{
		supervisor.GET("/queue", listQueueHandler())
		supervisor.GET("/queue/reported", listReportedHandler())
		supervisor.GET("/queue/:id/live-stock", liveStockHandler())
		supervisor.GET("/divergences", listDivergencesHandler())
		supervisor.POST("/divergences/:id/resolve", resolveDivergenceHandler(logger))
		supervisor.POST("/divergences/:id/retry-adjustment", retryAdjustmentHandler())
		supervisor.GET("/stats/supervisor", supervisorStatsHandler())
		supervisor.POST("/config/daily-goal", setDailyGoalHandler())
		supervisor.POST("/internal/ops/sync-snapshots", syncSnapshotsHandler(logger))
		supervisor.POST("/internal/ops/sync-adjustments", syncAdjustmentsHandler(logger))
		supervisor.POST("/internal/ops/cycle-reset", cycleResetHandler(logger))
		supervisor.GET("/internal/ops/jobs", jobStatusHandler())
	}

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// The ERP gateway needs credentials; without them the app still serves
	// counting, with context enrichment and reconciliation disabled.
	gw, err := erpsync.NewGateway()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "erp"}).Warn("erp gateway disabled: " + err.Error())
	} else {
		gateway = gw
	}

	// Background jobs: nightly snapshot sync and periodic adjustment flush.
	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go runSnapshotSyncJob(jobsCtx, logger)
	go runAdjustmentFlushJob(jobsCtx, logger)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("counting backend listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background jobs first so they don't start new work while we're draining.
	cancelJobs()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP()

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
