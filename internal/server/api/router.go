package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fileshare/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
// The returned limiter must be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.BaseURL},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoint only
	uploadLimiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	session := RequireSession(handler.auth)

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Identity
	e.POST("/signup", handler.HandleSignup)
	e.POST("/login", handler.HandleLogin)
	e.GET("/logout", handler.HandleLogout)

	// Files
	e.GET("/", handler.HandleHome, session)
	e.POST("/files", handler.HandleUpload, uploadLimiter.Middleware(), session)
	e.POST("/files/:name/delete", handler.HandleDelete, session)
	e.POST("/files/:name/share", handler.HandleShare, session)

	// Download
	e.GET("/d/:owner/:name", handler.HandleDownload)
	e.GET("/resume", handler.HandleResume, session)

	return e, uploadLimiter
}
