// Package products delivers purchased digital products from S3.
package products

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/funnel/internal/middleware"
	"github.com/aura-webinar/funnel/internal/models"
	"github.com/aura-webinar/funnel/internal/offers"
	"github.com/aura-webinar/funnel/pkg/response"
	"github.com/aura-webinar/funnel/pkg/storage"
)

// MaxFileSize is the largest product file accepted by Upload.
const MaxFileSize = 500 * 1024 * 1024

// Catalog is the offer lookup and ownership used by Handler.
type Catalog interface {
	GetBySlug(ctx context.Context, slug string) (*models.Offer, error)
	Owns(ctx context.Context, userID uuid.UUID, slug string) (bool, error)
	OwnedSlugs(ctx context.Context, userID uuid.UUID) ([]string, error)
	SetFileKey(ctx context.Context, slug, key string) error
}

// Files is the product file storage.
type Files interface {
	ProductsBucket() string
	PresignExpire() time.Duration
	PresignProductDownload(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Handler serves product downloads and admin uploads.
type Handler struct {
	catalog Catalog
	files   Files
	logger  *zap.Logger
}

// NewHandler creates a products handler. files may be nil when S3 is not configured.
func NewHandler(catalog Catalog, files Files, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{catalog: catalog, files: files, logger: logger}
}

// Mine handles GET /products (authenticated). Lists the slugs the viewer owns.
func (h *Handler) Mine(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	slugs, err := h.catalog.OwnedSlugs(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list owned offers failed", zap.String("user_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to list products")
		return
	}
	if slugs == nil {
		slugs = []string{}
	}
	response.OK(c, gin.H{"offer_slugs": slugs})
}

// Download handles GET /products/:slug/download (authenticated). Owners get a presigned URL.
func (h *Handler) Download(c *gin.Context) {
	if h.files == nil {
		response.ServiceUnavailable(c, "product storage not configured")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	slug := c.Param("slug")
	offer, err := h.catalog.GetBySlug(c.Request.Context(), slug)
	if errors.Is(err, offers.ErrNotFound) {
		response.NotFound(c, "product not found")
		return
	}
	if err != nil {
		h.logger.Error("load offer failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to load product")
		return
	}
	owns, err := h.catalog.Owns(c.Request.Context(), userID, slug)
	if err != nil {
		h.logger.Error("ownership check failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to load product")
		return
	}
	if !owns {
		response.Forbidden(c, "you do not own this product")
		return
	}
	if offer.FileKey == "" {
		response.NotFound(c, "product has no downloadable file")
		return
	}
	exists, err := h.files.Exists(c.Request.Context(), offer.FileKey)
	if err != nil {
		h.logger.Error("check product file failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to generate download URL")
		return
	}
	if !exists {
		h.logger.Warn("product file missing from storage", zap.String("slug", slug), zap.String("key", offer.FileKey))
		response.NotFound(c, "product has no downloadable file")
		return
	}
	url, err := h.files.PresignProductDownload(c.Request.Context(), offer.FileKey)
	if err != nil {
		h.logger.Error("presign product download failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{
		"download_url": url,
		"filename":     path.Base(offer.FileKey),
		"expires_in":   int(h.files.PresignExpire().Seconds()),
	})
}

// Upload handles POST /admin/products/:slug/file (admin only). Stores the file and links it to the offer.
func (h *Handler) Upload(c *gin.Context) {
	if h.files == nil {
		response.ServiceUnavailable(c, "product storage not configured")
		return
	}
	slug := c.Param("slug")
	if _, err := h.catalog.GetBySlug(c.Request.Context(), slug); err != nil {
		if errors.Is(err, offers.ErrNotFound) {
			response.NotFound(c, "product not found")
			return
		}
		h.logger.Error("load offer failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to load product")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	if file.Size > MaxFileSize {
		response.BadRequest(c, "file size exceeds 500MB limit")
		return
	}
	ext := strings.ToLower(path.Ext(file.Filename))
	if _, ok := storage.AllowedProductExtensions[ext]; !ok {
		response.BadRequest(c, "invalid file type")
		return
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	key := storage.ProductKey(slug, file.Filename)
	contentType := storage.ContentTypeForFilename(file.Filename)
	if _, err := h.files.Upload(c.Request.Context(), h.files.ProductsBucket(), key, contentType, rc, file.Size); err != nil {
		h.logger.Error("S3 upload failed", zap.String("slug", slug), zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	if err := h.catalog.SetFileKey(c.Request.Context(), slug, key); err != nil {
		h.logger.Error("set file key failed", zap.String("slug", slug), zap.Error(err))
		response.Internal(c, "failed to link file")
		return
	}
	response.OK(c, gin.H{
		"s3_key":       key,
		"content_type": contentType,
		"file_size":    file.Size,
		"filename":     file.Filename,
	})
}
