package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the desk API on api, normally the /api/v1 group.
func RegisterRoutes(api *gin.RouterGroup, h *DeskHandler) {
	api.GET("/health", HealthCheck)
	api.GET("/me/rounds", h.MyRounds)
	api.GET("/jobs/:jobId/sync-history", h.SyncHistory)

	api.POST("/desks", h.OpenDesk)
	desk := api.Group("/desks/:deskId")
	{
		desk.GET("", h.GetDesk)
		desk.DELETE("", h.CloseDesk)

		desk.POST("/rounds", h.AddRound)
		desk.DELETE("/rounds/:round", h.DeleteRound)
		desk.POST("/rounds/:round/refresh", h.RefreshRound)
		desk.POST("/rounds/:round/publish", h.Publish)

		desk.POST("/rounds/:round/candidates", h.AddCandidates)
		desk.POST("/rounds/:round/candidates/upload", h.UploadCandidates)
		desk.POST("/rounds/:round/candidates/import", h.ImportCandidates)
		desk.DELETE("/rounds/:round/candidates/:candidateId", h.RemoveCandidate)

		desk.POST("/moves", h.MoveCandidates)

		desk.POST("/selection/toggle", h.ToggleSelection)
		desk.POST("/selection/all", h.SelectAll)
		desk.POST("/selection/delete", h.DeleteSelected)
		desk.POST("/selection/move", h.MoveSelected)
		desk.DELETE("/selection", h.DeselectAll)
	}
}
