package controller

import (
	"arenaoj/internal/contest/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController serves leaderboard reads.
type ContestController struct {
	svc *service.Service
}

// NewContestController creates a new controller.
func NewContestController(svc *service.Service) *ContestController {
	return &ContestController{svc: svc}
}

// GetLeaderboard returns the ranked leaderboard of one contest.
func (h *ContestController) GetLeaderboard(c *gin.Context) {
	contestID := c.Param("id")
	if contestID == "" {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	rows, err := h.svc.GetLeaderboard(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"contest_id": contestID, "entries": rows})
}
