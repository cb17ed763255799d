package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"livequiz/middleware"
	"livequiz/models"
	"livequiz/questions"
	"livequiz/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins
	},
}

type GameHandler struct {
	sessions   *services.SessionService
	roster     *services.RosterService
	quiz       *services.QuestionService
	scoring    *services.ScoringService
	seats      *services.SeatIssuer
	hub        *services.Hub
	defaultSet func() questions.Set
}

func NewGameHandler(
	sessions *services.SessionService,
	roster *services.RosterService,
	quiz *services.QuestionService,
	scoring *services.ScoringService,
	seats *services.SeatIssuer,
	hub *services.Hub,
	defaultSet func() questions.Set,
) *GameHandler {
	if defaultSet == nil {
		defaultSet = questions.Sample
	}
	return &GameHandler{
		sessions:   sessions,
		roster:     roster,
		quiz:       quiz,
		scoring:    scoring,
		seats:      seats,
		hub:        hub,
		defaultSet: defaultSet,
	}
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	var req services.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	set := questions.Set(req.Questions)
	if len(set) == 0 {
		set = h.defaultSet()
	}

	game, host, err := h.sessions.CreateGame(c.Request.Context(), req.HostName, set)
	if err != nil {
		var createErr *services.SessionCreateError
		if errors.As(err, &createErr) {
			log.Error().Err(err).Str("stage", createErr.Stage).Msg("Error creating game")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create game. Please try again."})
			return
		}
		respondError(c, err, "Failed to create game. Please try again.")
		return
	}

	token, err := h.seats.Issue(host)
	if err != nil {
		respondError(c, err, "Failed to issue seat token")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"game": game, "player": host, "token": token})
}

func (h *GameHandler) JoinGame(c *gin.Context) {
	var req services.JoinGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, err := h.sessions.JoinGame(c.Request.Context(), c.Param("code"), req.Name)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrGameNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Game not found!"})
		return
	case errors.Is(err, services.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Name already taken in this game!"})
		return
	default:
		respondError(c, err, "Failed to join game!")
		return
	}

	token, err := h.seats.Issue(player)
	if err != nil {
		respondError(c, err, "Failed to issue seat token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"player": player, "token": token})
}

func (h *GameHandler) GetGame(c *gin.Context) {
	code := c.Param("code")
	game, err := h.sessions.GetGame(c.Request.Context(), code)
	if err != nil {
		respondError(c, err, "Failed to load game")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"game":              game,
		"connected_players": len(h.hub.ConnectedPlayers(code)),
	})
}

func (h *GameHandler) GetPlayers(c *gin.Context) {
	code := c.Param("code")
	if _, err := h.sessions.GetGame(c.Request.Context(), code); err != nil {
		respondError(c, err, "Failed to load players")
		return
	}

	board, err := h.roster.Leaderboard(c.Request.Context(), code)
	if err != nil {
		respondError(c, err, "Failed to load players")
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *GameHandler) GetQuestions(c *gin.Context) {
	game, err := h.sessions.GetGame(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err, "Failed to load questions")
		return
	}

	qs, err := h.quiz.PublicQuestions(c.Request.Context(), game)
	if err != nil {
		respondError(c, err, "Failed to load questions")
		return
	}
	c.JSON(http.StatusOK, qs)
}

func (h *GameHandler) StartGame(c *gin.Context) {
	seat, ok := middleware.SeatFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
		return
	}

	game, err := h.sessions.StartGame(c.Request.Context(), seat.GameID, seat.PlayerID)
	if err != nil {
		respondError(c, err, "Failed to start game")
		return
	}
	c.JSON(http.StatusOK, game)
}

func (h *GameHandler) NextQuestion(c *gin.Context) {
	seat, ok := middleware.SeatFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
		return
	}

	isHost, err := h.sessions.IsHost(c.Request.Context(), seat.GameID, seat.PlayerID)
	if err != nil {
		respondError(c, err, "Failed to advance game")
		return
	}
	if !isHost {
		respondError(c, services.ErrNotHost, "")
		return
	}

	game, err := h.sessions.AdvanceQuestion(c.Request.Context(), seat.GameID)
	if err != nil {
		respondError(c, err, "Failed to advance game")
		return
	}
	c.JSON(http.StatusOK, game)
}

func (h *GameHandler) SubmitAnswer(c *gin.Context) {
	seat, ok := middleware.SeatFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
		return
	}

	var req services.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	player, err := h.roster.GetPlayer(ctx, seat.GameID, seat.PlayerID)
	if err != nil {
		respondError(c, err, "Failed to submit answer")
		return
	}
	game, err := h.sessions.GetGame(ctx, seat.GameID)
	if err != nil {
		respondError(c, err, "Failed to submit answer")
		return
	}
	question, err := h.quiz.GetQuestion(ctx, req.QuestionID)
	if err == nil && question.GameID != game.ID {
		err = services.ErrQuestionNotFound
	}
	if err != nil {
		respondError(c, err, "Failed to submit answer")
		return
	}
	if game.Status != models.GameStatusActive || question.OrderIndex != game.CurrentQuestion {
		respondError(c, fmt.Errorf("question is not open for answers: %w", services.ErrInvalidState), "")
		return
	}

	points, err := h.scoring.SubmitAnswer(ctx, player, question, req.SelectedAnswer, req.ElapsedSeconds)
	if err != nil {
		respondError(c, err, "Failed to submit answer")
		return
	}

	all, err := h.quiz.AllAnswered(ctx, game.ID, question.ID)
	if err != nil {
		log.Error().Err(err).Str("game", game.ID).Msg("Error counting answers")
	}

	c.JSON(http.StatusOK, gin.H{"points_earned": points, "all_answered": all})
}

// WebSocket upgrades a seated player and hands the socket to the hub.
func (h *GameHandler) WebSocket(c *gin.Context) {
	seat, ok := middleware.SeatFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Seat token required"})
		return
	}

	if _, err := h.roster.GetPlayer(c.Request.Context(), seat.GameID, seat.PlayerID); err != nil {
		log.Warn().Err(err).Str("game", seat.GameID).Str("player_id", seat.PlayerID).Msg("Player access validation failed")
		respondError(c, err, "Failed to validate player")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warn().Err(err).Str("game", seat.GameID).Msg("WebSocket upgrade failed")
		return
	}

	log.Info().Str("game", seat.GameID).Str("player", seat.Name).Msg("WebSocket connection established")
	h.hub.RegisterClient(conn, seat)
}
