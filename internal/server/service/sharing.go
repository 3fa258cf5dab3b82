package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/storage"
)

// PublishResult tells whether Publish created the link.
type PublishResult int

const (
	NowPublic PublishResult = iota + 1
	AlreadyPublic
)

func (r PublishResult) String() string {
	switch r {
	case NowPublic:
		return "now_public"
	case AlreadyPublic:
		return "already_public"
	default:
		return "unknown"
	}
}

// DownloadTarget identifies a stored file by owner and storage name.
type DownloadTarget struct {
	OwnerID     uuid.UUID
	StorageName string
}

// Attachment is a file ready to be delivered. The caller must close Content.
type Attachment struct {
	FileID   uuid.UUID
	Filename string
	Size     int64
	Hash     string
	Content  io.ReadCloser
}

type resumeClaims struct {
	Owner string `json:"own"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

const resumeSubject = "download"

// SharingService publishes files and mediates downloads of published ones.
type SharingService struct {
	repo      Repository
	store     storage.Store
	timeout   time.Duration
	secret    []byte
	resumeTTL time.Duration
}

// NewSharingService creates a new sharing service. Without a configured
// secret, resume tokens are signed with a per-process random key and do not
// survive a restart.
func NewSharingService(repo Repository, store storage.Store, cfg *config.Config) (*SharingService, error) {
	secret := []byte(cfg.ResumeSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("crypto/rand failure: %w", err)
		}
		slog.Warn("RESUME_TOKEN_SECRET not set, using an ephemeral key")
	}

	return &SharingService{
		repo:      repo,
		store:     store,
		timeout:   cfg.StoreTimeout,
		secret:    secret,
		resumeTTL: cfg.ResumeTokenTTL,
	}, nil
}

// Publish creates the sharable link of one of the publisher's own active
// files. Publishing an already published file reports AlreadyPublic.
func (s *SharingService) Publish(ctx context.Context, publisher *Principal, storageName string) (result PublishResult, err error) {
	defer func() {
		label := outcome(err)
		if err == nil {
			label = result.String()
		}
		publishesTotal.WithLabelValues(label).Inc()
	}()

	if publisher == nil {
		return 0, ErrAuthentication
	}
	if publisher.Guest {
		return 0, ErrGuestNotAllowed
	}
	if !validStorageName(storageName) {
		return 0, ErrNotFound
	}

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	file, err := s.repo.GetActiveFile(dbCtx, publisher.UserID, storageName)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, unavailable(err)
	}

	link := &database.SharableLink{
		ID:          uuid.New(),
		Path:        file.FilePath,
		FileID:      file.ID,
		OwnerID:     publisher.UserID,
		PublishedBy: publisher.Name,
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.CreateLink(dbCtx, link)
	if err != nil {
		return 0, commitFailure(err)
	}
	if !created {
		return AlreadyPublic, nil
	}

	slog.Info("file published", "user_id", publisher.UserID, "storage_name", storageName)
	return NowPublic, nil
}

// Download returns a published file and appends a download record. An
// unauthenticated or guest requester gets a *LoginRequiredError whose resume
// token completes the same download after login. The file's active flag is
// not consulted: a published file stays downloadable after soft-delete.
func (s *SharingService) Download(ctx context.Context, requester *Principal, target DownloadTarget) (att *Attachment, err error) {
	defer func() {
		var loginErr *LoginRequiredError
		if errors.As(err, &loginErr) {
			downloadsTotal.WithLabelValues("deferred").Inc()
			return
		}
		downloadsTotal.WithLabelValues(outcome(err)).Inc()
	}()

	if !validStorageName(target.StorageName) || target.OwnerID == uuid.Nil {
		return nil, ErrNotPublic
	}

	if requester == nil || requester.Guest {
		token, err := s.resumeToken(target)
		if err != nil {
			return nil, err
		}
		return nil, &LoginRequiredError{ResumeToken: token}
	}

	key := storage.Key(target.OwnerID.String(), target.StorageName)
	path := s.store.Locate(key)

	dbCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.repo.GetLinkByPath(dbCtx, path); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotPublic
		}
		return nil, unavailable(err)
	}

	file, err := s.repo.GetFileByPath(dbCtx, path)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	content, err := s.store.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	record := &database.DownloadRecord{
		ID:               uuid.New(),
		FileID:           file.ID,
		OriginalFileName: file.OriginalFileName,
		UserID:           requester.UserID,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.CreateDownload(dbCtx, record); err != nil {
		content.Close()
		return nil, unavailable(err)
	}

	slog.Info("file downloaded",
		"file_id", file.ID,
		"owner_id", target.OwnerID,
		"user_id", requester.UserID,
	)

	return &Attachment{
		FileID:   file.ID,
		Filename: file.OriginalFileName,
		Size:     file.FileSize,
		Hash:     file.FileHash,
		Content:  content,
	}, nil
}

// Resume completes a download deferred by Download once the requester has
// logged in.
func (s *SharingService) Resume(ctx context.Context, requester *Principal, resumeToken string) (*Attachment, error) {
	target, err := s.parseResumeToken(resumeToken)
	if err != nil {
		return nil, err
	}
	return s.Download(ctx, requester, target)
}

func (s *SharingService) resumeToken(target DownloadTarget) (string, error) {
	now := time.Now()
	claims := resumeClaims{
		Owner: target.OwnerID.String(),
		Name:  target.StorageName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   resumeSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.resumeTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign resume token: %w", err)
	}
	return signed, nil
}

func (s *SharingService) parseResumeToken(raw string) (DownloadTarget, error) {
	claims := &resumeClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(resumeSubject),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return DownloadTarget{}, fmt.Errorf("%w: invalid resume token: %v", ErrValidation, err)
	}

	owner, err := uuid.Parse(claims.Owner)
	if err != nil {
		return DownloadTarget{}, fmt.Errorf("%w: invalid resume token owner", ErrValidation)
	}
	return DownloadTarget{OwnerID: owner, StorageName: claims.Name}, nil
}

func validStorageName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
