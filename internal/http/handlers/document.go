package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type DocumentHandler struct {
	documentService services.DocumentService
}

func NewDocumentHandler(documentService services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload takes a multipart form with the file under "file" and an optional
// "title" field. The response carries the row in its queued analysis state;
// progress flows over SSE from the task queue.
func (dh *DocumentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	doc, err := dh.documentService.Upload(c.Request.Context(), requestdata.UserID(c.Request.Context()), c.PostForm("title"), header)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

func (dh *DocumentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	doc, err := dh.documentService.Get(c.Request.Context(), requestdata.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

func (dh *DocumentHandler) List(c *gin.Context) {
	trashed := c.Query("trashed") == "true"
	docs, err := dh.documentService.List(c.Request.Context(), requestdata.UserID(c.Request.Context()), trashed)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"documents": docs})
}

func (dh *DocumentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	doc, err := dh.documentService.SetTrashed(c.Request.Context(), requestdata.UserID(c.Request.Context()), id, true)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, doc)
}
