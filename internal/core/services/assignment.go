// Package services contains core business logic
package services

import (
	"context"
	"fmt"
	"log/slog"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// AssignmentEngine picks the least-burdened qualified consultant for an
// application. Sector specialists are preferred; the sector-agnostic general
// pool is a deliberate fallback rather than a hard failure.
type AssignmentEngine struct {
	directory     ports.PrincipalDirectory
	conversations ports.ConversationRepository
	applications  ports.ApplicationRepository
}

// NewAssignmentEngine creates an engine with dependencies injected
func NewAssignmentEngine(
	directory ports.PrincipalDirectory,
	conversations ports.ConversationRepository,
	applications ports.ApplicationRepository,
) *AssignmentEngine {
	return &AssignmentEngine{
		directory:     directory,
		conversations: conversations,
		applications:  applications,
	}
}

// candidate tiers, in priority order
const (
	tierIncentive = iota // sector declared by the application's incentives
	tierCompany          // the requesting company's own sector affinity
	tierGeneral          // terminal: consultants with no sector affinity
)

type sectorCandidate struct {
	sectorID *int64 // nil only for the terminal general-pool entry
	tier     int
}

// candidateSectors builds the priority-ordered, de-duplicated list of
// sectors to consult: incentive-type sectors first (in the application's
// incentive order), then the incentives' own legacy sectors, then the
// company's sector, then the general pool. First occurrence wins.
func candidateSectors(incentives []domain.IncentiveSectors, company *domain.Principal) []sectorCandidate {
	var candidates []sectorCandidate
	seen := make(map[int64]struct{})

	add := func(sectorID *int64, tier int) {
		if sectorID == nil {
			return
		}
		if _, dup := seen[*sectorID]; dup {
			return
		}
		seen[*sectorID] = struct{}{}
		candidates = append(candidates, sectorCandidate{sectorID: sectorID, tier: tier})
	}

	for _, inc := range incentives {
		add(inc.TypeSectorID, tierIncentive)
	}
	for _, inc := range incentives {
		add(inc.OwnSectorID, tierIncentive)
	}
	if company != nil {
		add(company.SectorID, tierCompany)
	}

	candidates = append(candidates, sectorCandidate{sectorID: nil, tier: tierGeneral})
	return candidates
}

// Pick computes the assignment decision for an application without writing
// anything. Within the highest-priority sector that has any active
// consultant, the one with the fewest active conversations wins; ties break
// by earliest registration.
func (e *AssignmentEngine) Pick(ctx context.Context, applicationID string) (*domain.AssignmentDecision, error) {
	app, err := e.applications.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	company, err := e.directory.GetPrincipal(ctx, app.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("resolve company: %w", err)
	}

	incentives, err := e.applications.GetIncentiveSectors(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load incentive sectors: %w", err)
	}

	for _, cand := range candidateSectors(incentives, company) {
		consultant, err := e.leastLoadedConsultant(ctx, cand.sectorID)
		if err != nil {
			return nil, err
		}
		if consultant == nil {
			continue
		}

		decision := &domain.AssignmentDecision{
			Consultant: consultant,
			SectorID:   cand.sectorID,
			Reason:     reasonForTier(cand.tier),
		}
		slog.Info("Consultant selected",
			"application_id", applicationID,
			"consultant_id", consultant.ID,
			"reason", decision.Reason,
		)
		return decision, nil
	}

	return nil, domain.ErrNoConsultantAvailable
}

// leastLoadedConsultant returns the active consultant in the sector with the
// fewest active conversations, or nil when the sector has no consultants.
// The directory returns candidates oldest-registration-first, so keeping the
// strict minimum preserves the long-run fairness tie-break.
func (e *AssignmentEngine) leastLoadedConsultant(ctx context.Context, sectorID *int64) (*domain.Principal, error) {
	consultants, err := e.directory.FindActiveConsultants(ctx, sectorID)
	if err != nil {
		return nil, fmt.Errorf("query consultants: %w", err)
	}
	if len(consultants) == 0 {
		return nil, nil
	}

	var best *domain.Principal
	bestLoad := 0
	for _, c := range consultants {
		load, err := e.conversations.CountActiveFor(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("count active conversations: %w", err)
		}
		if best == nil || load < bestLoad {
			best = c
			bestLoad = load
		}
	}
	return best, nil
}

func reasonForTier(tier int) domain.AssignmentReason {
	switch tier {
	case tierIncentive:
		return domain.ReasonSectorMatch
	case tierCompany:
		return domain.ReasonLoadBalanceFallback
	default:
		return domain.ReasonGeneralPool
	}
}

// Assign picks a consultant for the application and writes the choice onto
// the application record. Callers creating the conversation propagate the
// consultant there themselves.
func (e *AssignmentEngine) Assign(ctx context.Context, applicationID string) (*domain.AssignmentDecision, error) {
	decision, err := e.Pick(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := e.applications.AssignConsultant(ctx, applicationID, decision.Consultant.ID); err != nil {
		return nil, fmt.Errorf("write assignment: %w", err)
	}
	return decision, nil
}

// Reassign re-runs the engine for an existing conversation and writes the
// new consultant onto both the conversation and its application. Exposed as
// an explicit operation for when an assigned consultant is deactivated;
// reassignment is never automatic.
func (e *AssignmentEngine) Reassign(ctx context.Context, conversationID string) (*domain.AssignmentDecision, error) {
	conv, err := e.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	decision, err := e.Pick(ctx, conv.ApplicationID)
	if err != nil {
		return nil, err
	}

	if err := e.conversations.SetAssignedConsultant(ctx, conversationID, decision.Consultant.ID); err != nil {
		return nil, fmt.Errorf("write conversation assignment: %w", err)
	}
	if err := e.applications.AssignConsultant(ctx, conv.ApplicationID, decision.Consultant.ID); err != nil {
		return nil, fmt.Errorf("write application assignment: %w", err)
	}

	slog.Info("Conversation reassigned",
		"conversation_id", conversationID,
		"consultant_id", decision.Consultant.ID,
		"reason", decision.Reason,
	)
	return decision, nil
}
