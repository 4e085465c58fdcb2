package http

import (
	"time"

	"offer-engine/internal/domain"
	"offer-engine/internal/usecase"
)

// CreateWorkItemRequest is the body of POST /work-items.
type CreateWorkItemRequest struct {
	Description        string `json:"description" validate:"required,min=1,max=2000"`
	Urgency            string `json:"urgency" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	MinExperienceLevel int    `json:"min_experience_level" validate:"gte=0"`
	Originator         string `json:"originator" validate:"omitempty,max=256"`
}

// ToNewWorkItem converts the request to the service input.
func (r *CreateWorkItemRequest) ToNewWorkItem() usecase.NewWorkItem {
	return usecase.NewWorkItem{
		Description:        r.Description,
		Urgency:            domain.Urgency(r.Urgency),
		MinExperienceLevel: r.MinExperienceLevel,
		Originator:         r.Originator,
	}
}

// AcceptRequest is the body of POST /work-items/{id}/accept.
type AcceptRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
}

// DeclineRequest is the body of POST /work-items/{id}/decline.
type DeclineRequest struct {
	CandidateID string `json:"candidate_id" validate:"required"`
	Reason      string `json:"reason" validate:"omitempty,max=1000"`
}

// OfferResponse is an open offer as returned to the candidate.
type OfferResponse struct {
	WorkItemID       string             `json:"work_item_id"`
	CandidateID      string             `json:"candidate_id"`
	QueuePosition    int                `json:"queue_position"`
	Description      string             `json:"description"`
	Urgency          domain.Urgency     `json:"urgency"`
	Phase            usecase.OfferPhase `json:"phase"`
	OfferedAt        *time.Time         `json:"offered_at,omitempty"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds"`
}

func newOfferResponse(v *usecase.OfferView) OfferResponse {
	return OfferResponse{
		WorkItemID:       v.WorkItemID,
		CandidateID:      v.CandidateID,
		QueuePosition:    v.QueuePosition,
		Description:      v.Description,
		Urgency:          v.Urgency,
		Phase:            v.Phase,
		OfferedAt:        v.OfferedAt,
		ExpiresAt:        v.ExpiresAt,
		RemainingSeconds: int64(v.Remaining / time.Second),
	}
}

// SweepResponse reports the result of POST /sweeps.
type SweepResponse struct {
	TimedOut int `json:"timed_out"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Details  []string         `json:"details,omitempty"`
	WorkItem *domain.WorkItem `json:"work_item,omitempty"`
}
