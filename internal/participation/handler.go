package participation

import (
	"github.com/gin-gonic/gin"

	"github.com/flashtalks/backend/pkg/response"
)

// CreateVoteRequest is the body for POST /events/:id/participation-votes.
type CreateVoteRequest struct {
	ParticipationType string `json:"participation_type" binding:"required,oneof=online onsite"`
	ParticipantName   string `json:"participant_name" binding:"required"`
	ParticipantEmail  string `json:"participant_email"`
}

// Handler adapts the tracker to HTTP.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a participation handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// CreateVote handles POST /events/:id/participation-votes. Duplicates by
// (event, participant name) are rejected with 409 via the best-effort
// pre-check.
func (h *Handler) CreateVote(c *gin.Context) {
	eventID := c.Param("id")
	var req CreateVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: participation_type (online|onsite) and participant_name required")
		return
	}
	if existing := h.tracker.GetParticipantVote(c.Request.Context(), eventID, req.ParticipantName); existing != nil {
		response.Conflict(c, "participant has already voted for this event")
		return
	}
	vote, err := h.tracker.CreateVote(c.Request.Context(), Vote{
		EventID:           eventID,
		ParticipationType: req.ParticipationType,
		ParticipantName:   req.ParticipantName,
		ParticipantEmail:  req.ParticipantEmail,
	})
	if err != nil {
		response.Internal(c, "failed to record participation vote")
		return
	}
	response.Created(c, vote)
}

// GetVoteCounts handles GET /events/:id/participation-votes.
func (h *Handler) GetVoteCounts(c *gin.Context) {
	counts, err := h.tracker.GetVoteCounts(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Internal(c, "failed to load participation votes")
		return
	}
	response.OK(c, counts)
}

// GetAllVotes handles GET /participation-votes.
func (h *Handler) GetAllVotes(c *gin.Context) {
	all, err := h.tracker.GetAllVotes(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to load participation votes")
		return
	}
	response.OK(c, all)
}
