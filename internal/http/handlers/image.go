package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type ImageHandler struct {
	imageService services.ImageService
}

func NewImageHandler(imageService services.ImageService) *ImageHandler {
	return &ImageHandler{imageService: imageService}
}

func (ih *ImageHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	img, err := ih.imageService.Upload(c.Request.Context(), requestdata.UserID(c.Request.Context()), c.PostForm("title"), header)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, img)
}

func (ih *ImageHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	img, err := ih.imageService.Get(c.Request.Context(), requestdata.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, img)
}

func (ih *ImageHandler) List(c *gin.Context) {
	trashed := c.Query("trashed") == "true"
	images, err := ih.imageService.List(c.Request.Context(), requestdata.UserID(c.Request.Context()), trashed)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"images": images})
}

func (ih *ImageHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	img, err := ih.imageService.SetTrashed(c.Request.Context(), requestdata.UserID(c.Request.Context()), id, true)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, img)
}
