package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type NoteHandler struct {
	noteService services.NoteService
}

func NewNoteHandler(noteService services.NoteService) *NoteHandler {
	return &NoteHandler{noteService: noteService}
}

func (nh *NoteHandler) Create(c *gin.Context) {
	var in services.NoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	note, err := nh.noteService.Create(c.Request.Context(), requestdata.UserID(c.Request.Context()), in)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, note)
}

func (nh *NoteHandler) List(c *gin.Context) {
	trashed := c.Query("trashed") == "true"
	notes, err := nh.noteService.List(c.Request.Context(), requestdata.UserID(c.Request.Context()), trashed)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"notes": notes})
}

func (nh *NoteHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	view, err := nh.noteService.Get(c.Request.Context(), requestdata.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (nh *NoteHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var in services.NoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	note, err := nh.noteService.Update(c.Request.Context(), requestdata.UserID(c.Request.Context()), id, in)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, note)
}

// Delete moves the note to trash; restore undoes it. Hard deletion never
// happens over the API.
func (nh *NoteHandler) Delete(c *gin.Context) {
	nh.setTrashed(c, true)
}

func (nh *NoteHandler) Restore(c *gin.Context) {
	nh.setTrashed(c, false)
}

func (nh *NoteHandler) setTrashed(c *gin.Context, trashed bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	note, err := nh.noteService.SetTrashed(c.Request.Context(), requestdata.UserID(c.Request.Context()), id, trashed)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, note)
}

func (nh *NoteHandler) Favorite(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	var req struct {
		IsFavorite bool `json:"is_favorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	note, err := nh.noteService.SetFavorite(c.Request.Context(), requestdata.UserID(c.Request.Context()), id, req.IsFavorite)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, note)
}
