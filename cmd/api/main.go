package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"presence/internal/audit"
	"presence/internal/auth"
	"presence/internal/claim"
	"presence/internal/config"
	"presence/internal/httpmiddleware"
	"presence/internal/logging"
	"presence/internal/queue"
	"presence/internal/session"
	"presence/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer logger.Sync()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	sessionRepo := session.NewRepository(db.Client)
	sessions := session.NewService(sessionRepo, cfg.RotateInterval)
	claimRepo := claim.NewRepository(db.Client)
	claims := claim.NewService(claimRepo, q, logger.Named("claims"))
	auditLog := audit.NewLog(db.Client)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev identity provider. Real deployments front this with the campus IdP
	// and only the parse side is used.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role != auth.RoleStudent && req.Role != auth.RoleTeacher {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be student or teacher"})
			return
		}
		tok, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": tok.Value,
			"expires_at":   tok.ExpiresAt.Unix(),
		})
	})

	teacherGroup := r.Group("/v1/sessions", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher))

	teacherGroup.POST("", func(c *gin.Context) {
		var req struct {
			CourseID         string   `json:"course_id" binding:"required"`
			Latitude         *float64 `json:"latitude"`
			Longitude        *float64 `json:"longitude"`
			AllowedRadiusM   float64  `json:"allowed_radius_m"`
			RequiredBeaconID *string  `json:"required_beacon_id"`
			MinRequiredRSSI  float64  `json:"min_required_rssi"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		teacherID, _ := auth.Subject(c)
		s, err := sessions.Create(c.Request.Context(), session.CreateParams{
			CourseID:         req.CourseID,
			TeacherID:        teacherID,
			Latitude:         req.Latitude,
			Longitude:        req.Longitude,
			AllowedRadiusM:   req.AllowedRadiusM,
			RequiredBeaconID: req.RequiredBeaconID,
			MinRequiredRSSI:  req.MinRequiredRSSI,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session":          s,
			"token":            s.Token,
			"token_expires_at": s.TokenExpiresAt,
		})
	})

	teacherGroup.POST("/:id/end", func(c *gin.Context) {
		s, ok := ownedSession(c, sessions)
		if !ok {
			return
		}
		if err := sessions.End(c.Request.Context(), s.ID); err != nil {
			if err == session.ErrNotActive {
				c.JSON(http.StatusConflict, gin.H{"error": "session already ended"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ended": true})
	})

	// Current token for the teacher device to render as a QR code.
	teacherGroup.GET("/:id/token", func(c *gin.Context) {
		s, ok := ownedSession(c, sessions)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":            s.Token,
			"token_issued_at":  s.TokenIssuedAt,
			"token_expires_at": s.TokenExpiresAt,
			"is_active":        s.IsActive,
		})
	})

	teacherGroup.GET("/:id/claims", func(c *gin.Context) {
		s, ok := ownedSession(c, sessions)
		if !ok {
			return
		}
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		list, err := claims.ListBySession(c.Request.Context(), s.ID, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"claims": list})
	})

	// Audit trail for dispute resolution.
	teacherGroup.GET("/:id/audit", func(c *gin.Context) {
		s, ok := ownedSession(c, sessions)
		if !ok {
			return
		}
		limit := 100
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		entries, err := auditLog.ListBySession(c.Request.Context(), s.ID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	claimGroup := r.Group("/v1/claims", auth.Optional(cfg.JWTSigningKey, cfg.JWTIssuer))

	claimGroup.POST("", func(c *gin.Context) {
		var req struct {
			SessionID       string   `json:"session_id" binding:"required"`
			ScannedToken    string   `json:"scanned_token" binding:"required"`
			Latitude        float64  `json:"latitude"`
			Longitude       float64  `json:"longitude"`
			StudentID       *string  `json:"student_id"`
			ScannedBeaconID *string  `json:"scanned_beacon_id"`
			BeaconRSSI      *float64 `json:"beacon_rssi"`
			MockLocation    bool     `json:"mock_location_detected"`
			DeviceIntegrity bool     `json:"device_integrity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var authSubject *string
		if sub, ok := auth.Subject(c); ok {
			authSubject = &sub
		}
		cl, err := claims.Submit(c.Request.Context(), claim.SubmitParams{
			SessionID:     req.SessionID,
			StudentID:     req.StudentID,
			AuthSubject:   authSubject,
			ScannedToken:  req.ScannedToken,
			Latitude:      req.Latitude,
			Longitude:     req.Longitude,
			ScannedBeacon: req.ScannedBeaconID,
			BeaconRSSI:    req.BeaconRSSI,
			MockLocation:  req.MockLocation,
			DeviceOK:      req.DeviceIntegrity,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"claim_id": cl.ID, "status": cl.Status})
	})

	claimGroup.GET("/:id", func(c *gin.Context) {
		cl, err := claims.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if cl == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "claim not found"})
			return
		}
		c.JSON(http.StatusOK, cl)
	})

	if !cfg.Production() {
		// Canonical fixture session for end-to-end smoke tests.
		r.POST("/v1/dev/test-session", func(c *gin.Context) {
			lat, lon := 19.0760, 72.8777
			now := time.Now().UTC()
			expires := now.Add(cfg.RotateInterval)
			s, err := sessionRepo.Insert(c.Request.Context(), session.Session{
				CourseID:        "CS401-FALL25",
				TeacherID:       "TEST_TEACHER_UID",
				Token:           "QR-TEST123",
				TokenIssuedAt:   now,
				TokenExpiresAt:  &expires,
				Latitude:        &lat,
				Longitude:       &lon,
				AllowedRadiusM:  session.DefaultAllowedRadiusM,
				MinRequiredRSSI: session.DefaultMinRequiredRSSI,
				IsActive:        true,
				CreatedAt:       now,
			})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"session_id": s.ID, "token": s.Token})
		})
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// ownedSession loads the :id session and enforces that the authenticated
// teacher owns it.
func ownedSession(c *gin.Context, sessions *session.Service) (*session.Session, bool) {
	s, err := sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if teacherID, ok := auth.Subject(c); !ok || s.TeacherID != teacherID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return nil, false
	}
	return s, true
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
