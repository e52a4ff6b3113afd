package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/http/response"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/requestdata"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/services"
)

type ConversationHandler struct {
	conversationService services.ConversationService
}

func NewConversationHandler(conversationService services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

func (ch *ConversationHandler) List(c *gin.Context) {
	convos, err := ch.conversationService.List(c.Request.Context(), requestdata.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convos})
}

func (ch *ConversationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	view, err := ch.conversationService.Get(c.Request.Context(), requestdata.UserID(c.Request.Context()), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, view)
}
