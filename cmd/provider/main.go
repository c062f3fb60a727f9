package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendMessageRequest is the subset of the Cloud API send body the mock cares
// about. Media objects arrive under a key named after the type, so they are
// captured loosely.
type SendMessageRequest struct {
	MessagingProduct string `json:"messaging_product" binding:"required"`
	To               string `json:"to" binding:"required"`
	Type             string `json:"type" binding:"required"`
	Text             *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    map[string]interface{} `json:"image"`
	Video    map[string]interface{} `json:"video"`
	Audio    map[string]interface{} `json:"audio"`
	Document map[string]interface{} `json:"document"`
	Sticker  map[string]interface{} `json:"sticker"`
}

// SendMessageResponse mirrors the Cloud API accept envelope.
type SendMessageResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// APIError mirrors the Cloud API error envelope.
type APIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// MediaInfoResponse mirrors the media metadata lookup response.
type MediaInfoResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// MockProvider simulates the WhatsApp Cloud API: accepting sends, issuing
// message ids and serving media blobs.
type MockProvider struct {
	acceptRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	publicURL  string
	rng        *rand.Rand
}

func NewMockProvider(acceptRate float64, minDelay, maxDelay time.Duration, publicURL string) *MockProvider {
	return &MockProvider{
		acceptRate: acceptRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		publicURL:  publicURL,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockProvider) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	delta := m.maxDelay - m.minDelay
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) shouldAccept() bool {
	return m.rng.Float64() < m.acceptRate
}

func (m *MockProvider) messageID() string {
	return "wamid.MOCK." + strings.ToUpper(uuid.New().String())
}

// mediaBlob derives a deterministic payload from the media id so repeated
// downloads of the same id return identical bytes.
func (m *MockProvider) mediaBlob(mediaID string) []byte {
	return []byte("mock-media-payload:" + mediaID)
}

type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

func requireBearer(c *gin.Context) bool {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= len("Bearer ") {
		var e APIError
		e.Error.Message = "Invalid OAuth access token"
		e.Error.Type = "OAuthException"
		e.Error.Code = 190
		c.JSON(http.StatusUnauthorized, e)
		return false
	}
	return true
}

// SendMessage handles POST /:phone_id/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	if !requireBearer(c) {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var e APIError
		e.Error.Message = "Invalid parameter: " + err.Error()
		e.Error.Type = "GraphMethodException"
		e.Error.Code = 100
		c.JSON(http.StatusBadRequest, e)
		return
	}

	time.Sleep(h.provider.randomDelay())

	if !h.provider.shouldAccept() {
		var e APIError
		e.Error.Message = "Message failed to send because the recipient is unavailable"
		e.Error.Type = "WhatsAppBusinessApiException"
		e.Error.Code = 131026

		log.Warn().
			Str("phone_id", c.Param("id")).
			Str("to", req.To).
			Str("type", req.Type).
			Msg("send rejected")

		c.JSON(http.StatusBadRequest, e)
		return
	}

	resp := SendMessageResponse{MessagingProduct: "whatsapp"}
	resp.Contacts = append(resp.Contacts, struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	}{Input: req.To, WaID: req.To})
	resp.Messages = append(resp.Messages, struct {
		ID string `json:"id"`
	}{ID: h.provider.messageID()})

	log.Info().
		Str("phone_id", c.Param("id")).
		Str("to", req.To).
		Str("type", req.Type).
		Str("message_id", resp.Messages[0].ID).
		Msg("send accepted")

	c.JSON(http.StatusOK, resp)
}

// GetMediaInfo handles GET /:media_id.
func (h *Handler) GetMediaInfo(c *gin.Context) {
	if !requireBearer(c) {
		return
	}

	mediaID := c.Param("id")
	if strings.HasPrefix(mediaID, "missing") {
		var e APIError
		e.Error.Message = "Media not found"
		e.Error.Type = "GraphMethodException"
		e.Error.Code = 100
		c.JSON(http.StatusNotFound, e)
		return
	}

	blob := h.provider.mediaBlob(mediaID)
	sum := sha256.Sum256(blob)

	c.JSON(http.StatusOK, MediaInfoResponse{
		ID:       mediaID,
		URL:      h.provider.publicURL + "/files/" + mediaID,
		MimeType: "image/jpeg",
		SHA256:   hex.EncodeToString(sum[:]),
		FileSize: int64(len(blob)),
	})
}

// DownloadMedia handles GET /files/:media_id.
func (h *Handler) DownloadMedia(c *gin.Context) {
	if !requireBearer(c) {
		return
	}

	mediaID := c.Param("id")
	blob := h.provider.mediaBlob(mediaID)

	log.Info().Str("media_id", mediaID).Int("bytes", len(blob)).Msg("media downloaded")

	c.Data(http.StatusOK, "image/jpeg", blob)
}

// HealthCheck handles health check requests.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"accept_rate": h.provider.acceptRate,
		"timestamp":   time.Now(),
	})
}

// UpdateConfig allows changing the accept rate at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.AcceptRate != nil {
		if *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
			h.provider.acceptRate = *config.AcceptRate
			log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Configuration updated",
		"accept_rate": h.provider.acceptRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.GET("/health", handler.HealthCheck)
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/files/:id", handler.DownloadMedia)

	// same version prefix the live Graph API carries
	v := router.Group("/v20.0")
	{
		v.POST("/:id/messages", handler.SendMessage)
		v.GET("/:id", handler.GetMediaInfo)
	}

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)
	publicURL := getEnv("PUBLIC_URL", "http://localhost:"+port)

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock WhatsApp Cloud API")

	provider := NewMockProvider(acceptRate, minDelay, maxDelay, publicURL)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
