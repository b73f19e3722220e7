package handler

import (
	"fmt"
	"net/http"

	"github.com/Relchzen/kopcus-dashboard/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MediaHandler struct {
	mediaService *service.MediaService
}

func NewMediaHandler(mediaSvc *service.MediaService) *MediaHandler {
	return &MediaHandler{mediaService: mediaSvc}
}

// Upload handles media asset upload
func (h *MediaHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		// Sniff from the first bytes when the browser didn't say
		buffer := make([]byte, 512)
		n, err := file.Read(buffer)
		if err != nil && n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		if _, err := file.Seek(0, 0); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		contentType = http.DetectContentType(buffer[:n])
	}

	if !service.AllowedMediaType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported media type"})
		return
	}

	assetID := uuid.New().String()
	objectName := fmt.Sprintf("%s/%s", assetID, header.Filename)

	if err := h.mediaService.Upload(c.Request.Context(), objectName, file, header.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload media: " + err.Error()})
		return
	}

	url, err := h.mediaService.PresignedURL(c.Request.Context(), objectName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":           assetID,
		"name":         header.Filename,
		"content_type": contentType,
		"url":          url,
	})
}

// List returns the media library contents
func (h *MediaHandler) List(c *gin.Context) {
	assets, err := h.mediaService.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list media: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"media": assets})
}

// Delete removes a media asset
func (h *MediaHandler) Delete(c *gin.Context) {
	if err := h.mediaService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete media: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Media deleted"})
}
