package http

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxUploadBytes = 25 << 20 // 25 MiB

var allowedUploadExt = map[string]string{
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// blobOpener is implemented by drivers that can stream blobs directly.
// The file driver backs the /uploads/ URLs it signs through it.
type blobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

func (s *Server) addFileRoutes(r *gin.Engine) {
	r.POST("/api/files", s.handleUpload)
	r.GET("/api/files/url", s.handleSignedURL)
	r.GET("/uploads/*key", s.handleServeUpload)
}

// handleUpload stages a file under tmp/<token>/. The key is later passed
// as an attachment when the request is submitted.
func (s *Server) handleUpload(c *gin.Context) {
	_, _, ok := s.require(c, "files:upload")
	if !ok {
		return
	}
	if s.store == nil {
		s.respondError(c, http.StatusNotImplemented, "not_implemented", "file storage is not configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "multipart field 'file' is required")
		return
	}
	name := filepath.Base(fh.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	ct, allowed := allowedUploadExt[ext]
	if !allowed {
		s.respondError(c, http.StatusBadRequest, "bad_request", "only pdf and excel files are accepted")
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "bad_request", "cannot read upload")
		return
	}
	defer f.Close()

	key := "tmp/" + uuid.NewString() + "/" + name
	if err := s.store.Put(c.Request.Context(), key, f, ct); err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "store failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key, "filename": name, "size": fh.Size})
}

// handleServeUpload streams blobs for URLs minted by the file driver.
// Cloud drivers sign real URLs, so this path only answers when the
// configured store can open blobs locally.
func (s *Server) handleServeUpload(c *gin.Context) {
	_, _, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	op, canOpen := s.store.(blobOpener)
	if s.store == nil || !canOpen {
		s.respondError(c, http.StatusNotFound, "not_found", "no such file")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, err := op.Open(c.Request.Context(), key)
	if err != nil {
		s.respondError(c, http.StatusNotFound, "not_found", "no such file")
		return
	}
	defer rc.Close()
	ct := allowedUploadExt[strings.ToLower(filepath.Ext(key))]
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Content-Type", ct)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

func (s *Server) handleSignedURL(c *gin.Context) {
	_, _, ok := s.require(c, "requests:read")
	if !ok {
		return
	}
	if s.store == nil {
		s.respondError(c, http.StatusNotImplemented, "not_implemented", "file storage is not configured")
		return
	}
	key := c.Query("key")
	if key == "" {
		s.respondError(c, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	u, err := s.store.SignedURL(c.Request.Context(), key, http.MethodGet, 15*time.Minute)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal_error", "sign failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "expires_in": int((15 * time.Minute).Seconds())})
}
