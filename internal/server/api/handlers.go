package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fileshare/internal/server/config"
	"fileshare/internal/server/service"
)

const (
	sessionCookie = "session_token"
	resumeCookie  = "resume_token"
)

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the file sharing API.
type Handler struct {
	auth     *service.AuthService
	uploads  *service.UploadService
	registry *service.Registry
	sharing  *service.SharingService
	ledger   *service.Ledger
	db       HealthChecker
	baseURL  string
	secure   bool
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(
	auth *service.AuthService,
	uploads *service.UploadService,
	registry *service.Registry,
	sharing *service.SharingService,
	ledger *service.Ledger,
	db HealthChecker,
	cfg *config.Config,
) *Handler {
	return &Handler{
		auth:     auth,
		uploads:  uploads,
		registry: registry,
		sharing:  sharing,
		ledger:   ledger,
		db:       db,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		secure:   strings.HasPrefix(cfg.BaseURL, "https://"),
	}
}

// HandleSignup handles POST /signup.
// Accepts form fields email, name, password and password2.
func (h *Handler) HandleSignup(c echo.Context) error {
	_, err := h.auth.Register(c.Request().Context(), service.RegisterRequest{
		Email:     c.FormValue("email"),
		Name:      c.FormValue("name"),
		Password:  c.FormValue("password"),
		Password2: c.FormValue("password2"),
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"flash": service.InfoFlash("Signup successful"),
	})
}

// HandleLogin handles POST /login.
// Empty credentials start a guest session. A pending download left by
// HandleDownload is resumed by redirecting to /resume.
func (h *Handler) HandleLogin(c echo.Context) error {
	p, err := h.auth.Login(c.Request().Context(), c.FormValue("email"), c.FormValue("password"))
	if err != nil {
		return mapServiceError(c, err)
	}
	h.setCookie(c, sessionCookie, p.Token)

	if !p.Guest {
		if cookie, err := c.Cookie(resumeCookie); err == nil && cookie.Value != "" {
			return c.Redirect(http.StatusSeeOther, "/resume")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"name":  p.Name,
		"guest": p.Guest,
	})
}

// HandleLogout handles GET /logout.
func (h *Handler) HandleLogout(c echo.Context) error {
	err := h.auth.Logout(c.Request().Context(), sessionToken(c))
	h.clearCookie(c, sessionCookie)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"flash": service.InfoFlash("Logout successful"),
	})
}

// HandleHome handles GET /.
// Lists the caller's active files. Guests get an empty listing.
func (h *Handler) HandleHome(c echo.Context) error {
	p := principalFrom(c)
	resp := echo.Map{
		"name":  p.Name,
		"guest": p.Guest,
		"files": []service.FileSummary{},
	}
	if p.Guest {
		return c.JSON(http.StatusOK, resp)
	}

	ctx := c.Request().Context()
	files, err := h.registry.ListActive(ctx, p.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}
	used, err := h.ledger.Usage(ctx, p.UserID)
	if err != nil {
		return mapServiceError(c, err)
	}

	resp["files"] = files
	resp["used"] = service.FormatSize(used)
	resp["quota"] = service.FormatSize(h.ledger.Limit())
	return c.JSON(http.StatusOK, resp)
}

// HandleUpload handles POST /files.
// Accepts a multipart form with a "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	p := principalFrom(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return mapServiceError(c, service.ErrEmptyFilename)
		}
		return c.JSON(http.StatusBadRequest, echo.Map{
			"flash": service.Flash{Error: "Invalid upload form"},
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return mapServiceError(c, fmt.Errorf("%w: %v", service.ErrStorage, err))
	}
	defer src.Close()

	result, err := h.uploads.Upload(c.Request().Context(), service.UploadRequest{
		OwnerID:        p.UserID,
		SessionToken:   p.Token,
		Filename:       fileHeader.Filename,
		Content:        src,
		DeclaredLength: fileHeader.Size,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"flash": service.InfoFlash("File uploaded"),
		"file": service.FileSummary{
			OriginalFileName: result.File.OriginalFileName,
			FileName:         result.File.FileName,
			Size:             service.FormatSize(result.File.FileSize),
			Bytes:            result.File.FileSize,
			UploadedAt:       result.File.CreatedAt,
		},
		"used": service.FormatSize(result.UsedBytes),
	})
}

// HandleDelete handles POST /files/:name/delete.
func (h *Handler) HandleDelete(c echo.Context) error {
	p := principalFrom(c)
	if p.Guest {
		return mapServiceError(c, service.ErrGuestNotAllowed)
	}

	if _, err := h.registry.SoftDelete(c.Request().Context(), p.UserID, c.Param("name")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"flash": service.InfoFlash("File deleted"),
	})
}

// HandleShare handles POST /files/:name/share.
// Returns the public download URL of the file.
func (h *Handler) HandleShare(c echo.Context) error {
	p := principalFrom(c)
	name := c.Param("name")

	result, err := h.sharing.Publish(c.Request().Context(), p, name)
	if err != nil {
		return mapServiceError(c, err)
	}

	msg := "File is now public"
	if result == service.AlreadyPublic {
		msg = "File is already public"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"flash":  service.InfoFlash(msg),
		"result": result.String(),
		"url":    fmt.Sprintf("%s/d/%s/%s", h.baseURL, p.UserID, name),
	})
}

// HandleDownload handles GET /d/:owner/:name.
// Serves a published file as an attachment. Callers without a user session
// get a resume cookie and are asked to log in.
func (h *Handler) HandleDownload(c echo.Context) error {
	owner, err := uuid.Parse(c.Param("owner"))
	if err != nil {
		return mapServiceError(c, service.ErrNotPublic)
	}

	// A missing or stale session is treated as anonymous.
	var requester *service.Principal
	if p, err := h.auth.Resolve(c.Request().Context(), sessionToken(c)); err == nil {
		requester = p
	} else if errors.Is(err, service.ErrStorageUnavailable) {
		return mapServiceError(c, err)
	}

	att, err := h.sharing.Download(c.Request().Context(), requester, service.DownloadTarget{
		OwnerID:     owner,
		StorageName: c.Param("name"),
	})
	if err != nil {
		var loginErr *service.LoginRequiredError
		if errors.As(err, &loginErr) {
			h.setCookie(c, resumeCookie, loginErr.ResumeToken)
		}
		return mapServiceError(c, err)
	}

	return sendAttachment(c, att)
}

// HandleResume handles GET /resume.
// Completes a download deferred by HandleDownload after login.
func (h *Handler) HandleResume(c echo.Context) error {
	token := c.QueryParam("token")
	if cookie, err := c.Cookie(resumeCookie); err == nil && token == "" {
		token = cookie.Value
	}
	if token == "" {
		return mapServiceError(c, fmt.Errorf("%w: no pending download", service.ErrValidation))
	}

	p := principalFrom(c)
	att, err := h.sharing.Resume(c.Request().Context(), p, token)

	// Keep the pending download until a real user resumes it.
	var loginErr *service.LoginRequiredError
	if !errors.As(err, &loginErr) {
		h.clearCookie(c, resumeCookie)
	}
	if err != nil {
		return mapServiceError(c, err)
	}

	return sendAttachment(c, att)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.registry.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_users":        stats.TotalUsers,
		"active_files":       stats.ActiveFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

func sendAttachment(c echo.Context, att *service.Attachment) error {
	defer att.Content.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, contentDisposition(att.Filename))
	header.Set(echo.HeaderContentLength, strconv.FormatInt(att.Size, 10))
	header.Set("X-Checksum-Sha256", att.Hash)

	if err := c.Stream(http.StatusOK, echo.MIMEOctetStream, att.Content); err != nil {
		slog.Error("download interrupted", "file_id", att.FileID, "error", err)
	}
	return nil
}

// contentDisposition quotes ASCII names and switches to the RFC 2231
// filename* form for anything else.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func sessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setCookie(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// mapServiceError translates service-layer errors into HTTP responses
// carrying the user-facing flash message.
func mapServiceError(c echo.Context, err error) error {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
	}
	return c.JSON(status, echo.Map{"flash": service.ErrorFlash(err)})
}

func errorStatus(err error) int {
	var loginErr *service.LoginRequiredError
	switch {
	case errors.As(err, &loginErr):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrGuestNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	case errors.Is(err, service.ErrNotPublic):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
