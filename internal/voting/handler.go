package voting

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flashtalks/backend/pkg/response"
)

// CreateSessionRequest is the body for POST /events/:id/talks/:talkId/voting-sessions.
type CreateSessionRequest struct {
	Duration  int    `json:"duration"` // seconds; 0 = default
	CreatedBy string `json:"created_by"`
}

// SubmitVoteRequest is the body for POST /voting-sessions/:id/votes.
type SubmitVoteRequest struct {
	VoterID string `json:"voter_id" binding:"required"`
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
}

// Handler adapts the session manager to HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates a voting handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// CreateSession handles POST /events/:id/talks/:talkId/voting-sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, err := h.manager.CreateSession(c.Request.Context(), CreateParams{
		EventID:   c.Param("id"),
		TalkID:    c.Param("talkId"),
		Duration:  time.Duration(req.Duration) * time.Second,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		response.Internal(c, "failed to create voting session")
		return
	}
	response.Created(c, s)
}

// SubmitVote handles POST /voting-sessions/:id/votes.
func (h *Handler) SubmitVote(c *gin.Context) {
	var req SubmitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: voter_id and rating 1-5 required")
		return
	}
	vote, err := h.manager.SubmitVote(c.Request.Context(), c.Param("id"), req.VoterID, req.Rating)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "voting session not found")
	case errors.Is(err, ErrSessionEnded):
		response.BadRequest(c, "voting has ended")
	case errors.Is(err, ErrAlreadyVoted):
		response.Conflict(c, "already voted")
	case errors.Is(err, ErrInvalidRating):
		response.BadRequest(c, "rating must be between 1 and 5")
	case err != nil:
		response.Internal(c, "failed to record vote")
	default:
		response.Created(c, vote)
	}
}

// GetResults handles GET /voting-sessions/:id/results.
func (h *Handler) GetResults(c *gin.Context) {
	results, err := h.manager.GetResults(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrSessionNotFound) {
		response.NotFound(c, "voting session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load results")
		return
	}
	response.OK(c, results)
}

// EndSession handles POST /voting-sessions/:id/end.
func (h *Handler) EndSession(c *gin.Context) {
	s, err := h.manager.EndSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrSessionNotFound) {
		response.NotFound(c, "voting session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to end voting session")
		return
	}
	response.OK(c, s)
}

// GetActiveSessions handles GET /events/:id/voting-sessions/active.
func (h *Handler) GetActiveSessions(c *gin.Context) {
	sessions, err := h.manager.GetActiveSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Internal(c, "failed to load active sessions")
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	response.OK(c, sessions)
}

// GetVoterVote handles GET /voting-sessions/:id/votes/:voterId.
func (h *Handler) GetVoterVote(c *gin.Context) {
	vote, err := h.manager.GetVoterVote(c.Request.Context(), c.Param("id"), c.Param("voterId"))
	if errors.Is(err, ErrSessionNotFound) {
		response.NotFound(c, "voting session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load vote")
		return
	}
	response.OK(c, gin.H{"hasVoted": vote != nil, "vote": vote})
}
