// Package devregistry is a small token registry for local development. It
// accepts the registrar's POST {"token": ...} requests, upserts them into
// SQLite and can be scripted to fail so retry behaviour can be watched end
// to end.
package devregistry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Device is one registered token.
type Device struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Token         string    `gorm:"uniqueIndex;not null" json:"token"`
	InstanceID    string    `json:"instance_id,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Registrations int       `gorm:"not null;default:1" json:"registrations"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Device) TableName() string { return "devices" }

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger for Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAPIKey requires "Authorization: Bearer <key>" on registrations.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithFailures answers the first len(statuses) registrations with the given
// HTTP status codes, in order, before accepting any.
func WithFailures(statuses ...int) Option {
	return func(s *Server) {
		s.script = append(s.script, statuses...)
	}
}

// Server is the development registry.
type Server struct {
	db     *gorm.DB
	engine *gin.Engine
	logger *slog.Logger
	apiKey string

	mu     sync.Mutex
	script []int
}

// Open opens the SQLite database at path and returns a Server over it.
func Open(path string, opts ...Option) (*Server, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening registry database %s: %w", path, err)
	}
	return New(db, opts...)
}

// New returns a Server over an existing GORM handle.
func New(db *gorm.DB, opts ...Option) (*Server, error) {
	if err := db.AutoMigrate(&Device{}); err != nil {
		return nil, fmt.Errorf("migrating devices: %w", err)
	}

	s := &Server{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.POST("/tokens", s.handleRegister)
	s.engine.GET("/tokens", s.handleList)
	return s, nil
}

// Handler returns the HTTP handler serving the registry.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Registry listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("registry server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down registry: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Devices returns every registered device, most recently updated first.
func (s *Server) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// Close closes the underlying database.
func (s *Server) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type registerRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(c *gin.Context) {
	if s.apiKey != "" && c.GetHeader("Authorization") != "Bearer "+s.apiKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	if status, ok := s.nextFailure(); ok {
		s.logger.Info("Injected failure", "status", status)
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	now := time.Now().UTC()
	device := Device{
		Token:         req.Token,
		InstanceID:    c.GetHeader("X-Instance-Id"),
		UserAgent:     c.GetHeader("User-Agent"),
		Registrations: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.Assignments(map[string]any{
			"instance_id":   device.InstanceID,
			"user_agent":    device.UserAgent,
			"updated_at":    now,
			"registrations": gorm.Expr("registrations + 1"),
		}),
	}).Create(&device).Error
	if err != nil {
		s.logger.Error("Failed to store token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storing token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": req.Token, "registered": true})
}

func (s *Server) handleList(c *gin.Context) {
	devices, err := s.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) nextFailure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return 0, false
	}
	status := s.script[0]
	s.script = s.script[1:]
	return status, true
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("<<< Registry request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// ParseFailures parses a comma-separated status list such as "503,503".
func ParseFailures(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var statuses []int
	for _, part := range strings.Split(list, ",") {
		status, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid status %q: %w", part, err)
		}
		if status < 400 || status > 599 {
			return nil, fmt.Errorf("status %d is not an error status", status)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
