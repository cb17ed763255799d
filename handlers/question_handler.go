package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"livequiz/services"
)

type QuestionHandler struct {
	quiz *services.QuestionService
}

func NewQuestionHandler(quiz *services.QuestionService) *QuestionHandler {
	return &QuestionHandler{quiz: quiz}
}

// AddQuestion appends one question to a game for holders of the shared
// authoring secret.
func (h *QuestionHandler) AddQuestion(c *gin.Context) {
	var req services.AddQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, err := h.quiz.AddQuestion(c.Request.Context(), &req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": "Question Added"})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not Authorised"})
	case errors.Is(err, services.ErrGameNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found"})
	default:
		log.Error().Err(err).Str("game", req.GameID).Msg("Error adding question")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add questions", "details": err.Error()})
	}
}
