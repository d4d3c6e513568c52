// Package approval keeps decisions that need a human in the loop until an
// admin approves or rejects them.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zeus-ia/zeus/internal/model"
	"github.com/zeus-ia/zeus/internal/storage"
)

// ErrAlreadyDecided is returned when deciding a request that is no longer pending.
var ErrAlreadyDecided = errors.New("approval: already decided")

// maxSummaryLen bounds the stored summary of the decision under review.
const maxSummaryLen = 2000

// Store is the approval persistence. storage.DB implements it.
type Store interface {
	InsertApproval(ctx context.Context, r model.ApprovalRequest) error
	ListPendingApprovals(ctx context.Context, companyID string, limit int) ([]model.ApprovalRequest, error)
	DecideApproval(ctx context.Context, companyID string, id uuid.UUID, status model.ApprovalStatus, decidedBy string, at time.Time) (model.ApprovalRequest, error)
}

// Service manages HITL requests.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an approval service.
func New(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Enqueue parks a decision for review.
func (s *Service) Enqueue(ctx context.Context, id model.Identity, summary, reason string) (model.ApprovalRequest, error) {
	if r := []rune(summary); len(r) > maxSummaryLen {
		summary = string(r[:maxSummaryLen])
	}
	req := model.ApprovalRequest{
		ID:        uuid.New(),
		Identity:  model.NewIdentity(id.CompanyID, id.AgentID, id.ThreadID),
		Summary:   summary,
		Reason:    strings.TrimSpace(reason),
		Status:    model.ApprovalPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertApproval(ctx, req); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("approval: enqueue: %w", err)
	}
	s.logger.Info("approval requested", "approval_id", req.ID, "identity", req.Identity.String(), "reason", req.Reason)
	return req, nil
}

// ListPending returns a company's pending requests, oldest first.
func (s *Service) ListPending(ctx context.Context, companyID string, limit int) ([]model.ApprovalRequest, error) {
	out, err := s.store.ListPendingApprovals(ctx, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	if out == nil {
		out = []model.ApprovalRequest{}
	}
	return out, nil
}

// Decide approves or rejects a pending request of companyID.
func (s *Service) Decide(ctx context.Context, companyID string, id uuid.UUID, approve bool, decidedBy string) (model.ApprovalRequest, error) {
	status := model.ApprovalRejected
	if approve {
		status = model.ApprovalApproved
	}
	r, err := s.store.DecideApproval(ctx, companyID, id, status, decidedBy, s.now().UTC())
	switch {
	case errors.Is(err, storage.ErrConflict):
		return model.ApprovalRequest{}, fmt.Errorf("%w: %s", ErrAlreadyDecided, id)
	case err != nil:
		return model.ApprovalRequest{}, fmt.Errorf("approval: decide %s: %w", id, err)
	}
	s.logger.Info("approval decided", "approval_id", id, "status", status, "decided_by", decidedBy)
	return r, nil
}
