package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cybersentinel/sentinel/internal/api/middleware"
	"github.com/cybersentinel/sentinel/internal/services"
)

// UploadHandler accepts multipart uploads and routes them through the
// scan pipeline. The temp file never survives the request.
type UploadHandler struct {
	Scanner   *services.FileScanService
	UploadDir string
}

// Upload handles POST /api/upload.
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
		return
	}

	tempPath := filepath.Join(h.UploadDir, "tmp_"+uuid.NewString())
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	defer os.Remove(tempPath)

	req, class := middleware.FirewallRequest(c)
	outcome, err := h.Scanner.ProcessUpload(req, class, tempPath, file.Filename)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process upload"})
		return
	}

	if !outcome.Result.Safe {
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "File rejected",
			"type":   "malicious_file",
			"stage":  outcome.Result.Stage,
			"reason": outcome.Result.Reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stored_name": outcome.StoredName,
		"original":    file.Filename,
	})
}
