package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livequiz/handlers"
	"livequiz/middleware"
)

func SetupRoutes(
	router *gin.Engine,
	gameHandler *handlers.GameHandler,
	questionHandler *handlers.QuestionHandler,
	seats middleware.SeatVerifier,
) {
	api := router.Group("/api")
	{
		// Question authoring, guarded by the shared secret in the body
		api.POST("/ques", questionHandler.AddQuestion)

		// Public game routes
		games := api.Group("/games")
		{
			games.POST("", gameHandler.CreateGame)
			games.POST("/:code/join", gameHandler.JoinGame)
			games.GET("/:code", gameHandler.GetGame)
			games.GET("/:code/players", gameHandler.GetPlayers)
			games.GET("/:code/questions", gameHandler.GetQuestions)
		}

		// Seated routes
		seated := api.Group("/games/:code")
		seated.Use(middleware.SeatAuth(seats))
		{
			seated.POST("/start", gameHandler.StartGame)
			seated.POST("/next", gameHandler.NextQuestion)
			seated.POST("/answer", gameHandler.SubmitAnswer)
		}
	}

	// WebSocket endpoint for real-time game state
	router.GET("/ws/:code", middleware.SeatAuth(seats), gameHandler.WebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
