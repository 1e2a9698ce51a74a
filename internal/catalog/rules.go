package catalog

import (
	"context"
	"fmt"

	"gridreg/pkg/domain"
)

// StatusTransitionRule blocks illegal project status transitions.
func StatusTransitionRule() domain.Rule {
	return statusTransitionRule{}
}

type statusTransitionRule struct{}

var statusSuccessors = map[domain.ProjectStatus]map[domain.ProjectStatus]struct{}{
	domain.StatusInitialRegistration: toSet(domain.StatusInitialRegistration, domain.StatusInProgress, domain.StatusComplete, domain.StatusDeprecated),
	domain.StatusInProgress:          toSet(domain.StatusInProgress, domain.StatusComplete, domain.StatusDeprecated),
	domain.StatusComplete:            toSet(domain.StatusComplete, domain.StatusInProgress, domain.StatusPublished, domain.StatusDeprecated),
	domain.StatusPublished:           toSet(domain.StatusPublished),
	domain.StatusDeprecated:          toSet(domain.StatusDeprecated),
}

func (statusTransitionRule) Name() string { return "project_status_transition" }

func (statusTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityProject {
			continue
		}
		after, ok := entryPayload(change.After)
		if !ok {
			continue
		}
		if _, valid := statusSuccessors[after.Status]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "project_status_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("project %s is set to invalid status %s", after.ID, after.Status),
				Entity:   domain.EntityProject,
				EntityID: after.ID,
			})
			continue
		}
		before, ok := entryPayload(change.Before)
		if !ok {
			continue
		}
		if _, allowed := statusSuccessors[before.Status][after.Status]; !allowed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "project_status_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("project %s cannot move from %s to %s", after.ID, before.Status, after.Status),
				Entity:   domain.EntityProject,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// VersionMonotonicRule blocks updates that roll an entry's version backwards.
func VersionMonotonicRule() domain.Rule {
	return versionMonotonicRule{}
}

type versionMonotonicRule struct{}

func (versionMonotonicRule) Name() string { return "version_monotonic" }

func (versionMonotonicRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := entryPayload(change.Before)
		after, okAfter := entryPayload(change.After)
		if !okBefore || !okAfter {
			continue
		}
		if after.Version.Less(before.Version) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "version_monotonic",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %s version regresses from %s to %s", change.Entity, after.ID, before.Version, after.Version),
				Entity:   change.Entity,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// SlotConsistencyRule blocks project entries whose dataset slots contradict
// their status: a registered slot must pin a dataset version, and a project
// cannot be complete or published while a declared dataset is unregistered.
func SlotConsistencyRule() domain.Rule {
	return slotConsistencyRule{}
}

type slotConsistencyRule struct{}

func (slotConsistencyRule) Name() string { return "project_slot_consistency" }

func (slotConsistencyRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityProject {
			continue
		}
		after, ok := entryPayload(change.After)
		if !ok {
			continue
		}
		unregistered := 0
		for _, slot := range after.Datasets {
			switch slot.Status {
			case domain.SlotRegistered:
				if slot.Version == nil {
					res.Violations = append(res.Violations, domain.Violation{
						Rule:     "project_slot_consistency",
						Severity: domain.SeverityBlock,
						Message:  fmt.Sprintf("project %s marks dataset %s registered without a pinned version", after.ID, slot.DatasetID),
						Entity:   domain.EntityProject,
						EntityID: after.ID,
					})
				}
			case domain.SlotUnregistered:
				unregistered++
			}
		}
		sealed := after.Status == domain.StatusComplete || after.Status == domain.StatusPublished
		if sealed && (unregistered > 0 || len(after.Datasets) == 0) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "project_slot_consistency",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("project %s cannot be %s with %d of %d datasets unregistered", after.ID, after.Status, unregistered, len(after.Datasets)),
				Entity:   domain.EntityProject,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}

// DefaultRulesEngine wires the catalog rules applied by every registry store.
func DefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusTransitionRule())
	engine.Register(VersionMonotonicRule())
	engine.Register(SlotConsistencyRule())
	return engine
}

func entryPayload(p any) (domain.CatalogEntry, bool) {
	entry, ok := p.(domain.CatalogEntry)
	return entry, ok
}

func toSet(values ...domain.ProjectStatus) map[domain.ProjectStatus]struct{} {
	set := make(map[domain.ProjectStatus]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
