package ports

import (
	"sort"
	"time"

	"github.com/aretw0/processengine/pkg/domain"
)

// SortInstances orders records by EnteredAt, then by id, as the repository contract requires.
func SortInstances(list []*domain.FlowNodeInstance) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].EnteredAt.Equal(list[j].EnteredAt) {
			return list[i].EnteredAt.Before(list[j].EnteredAt)
		}
		return list[i].ID < list[j].ID
	})
}

// Transition builds the domain transition for a PersistOn* call.
func Transition(id string, to domain.FlowNodeInstanceState, token domain.ProcessToken, cause error) domain.Transition {
	return domain.Transition{FlowNodeInstanceID: id, To: to, Token: token, Err: cause, At: time.Now().UTC()}
}

// NewRunning prepares a record for PersistOnEnter.
func NewRunning(inst *domain.FlowNodeInstance) *domain.FlowNodeInstance {
	cp := *inst
	cp.State = domain.StateRunning
	if cp.EnteredAt.IsZero() {
		cp.EnteredAt = time.Now().UTC()
	}
	return &cp
}
