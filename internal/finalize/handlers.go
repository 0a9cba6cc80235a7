package finalize

import (
	"github.com/gin-gonic/gin"

	"github.com/shamsear/ssleague-api/pkg/response"
)

// GinHandlers contains HTTP handlers for the committee finalization surface.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// FinalizeRoundHandler triggers finalization explicitly. Idempotent: a round
// another trigger already completed reports advanced=false.
func (h *GinHandlers) FinalizeRoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roundID := c.Param("round_id")
		actorID := c.GetString("clientID")

		outcome, err := h.service.Finalize(roundID, TriggerManual, actorID)
		response.Handle(c, outcome, err)
	}
}

// StageRoundHandler resolves a round and parks it for review without moving
// any budgets.
func (h *GinHandlers) StageRoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roundID := c.Param("round_id")
		actorID := c.GetString("clientID")

		outcome, err := h.service.Stage(roundID, actorID)
		response.Handle(c, outcome, err)
	}
}

// ApplyStagedHandler commits a previously staged round.
func (h *GinHandlers) ApplyStagedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		roundID := c.Param("round_id")
		actorID := c.GetString("clientID")

		outcome, err := h.service.ApplyStaged(roundID, actorID)
		response.Handle(c, outcome, err)
	}
}

// CloseTiebreakerHandler closes a tiebreaker window before its timer fires.
func (h *GinHandlers) CloseTiebreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tiebreakerID := c.Param("tiebreaker_id")
		actorID := c.GetString("clientID")

		result, err := h.service.CloseTiebreaker(tiebreakerID, actorID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"tiebreaker_id": result.Tiebreaker.TiebreakerID,
			"resolved":      result.Resolved,
			"reopened":      result.Reopened,
			"winner":        result.WinnerTeamID,
		})
	}
}
