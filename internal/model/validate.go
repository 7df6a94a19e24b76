package model

import (
	"fmt"

	"github.com/aretw0/processengine/pkg/domain"
	"go.uber.org/multierr"
)

// Validate checks the graph for broken references, unsupported boundary
// attachments and nodes no path can reach. All problems are reported.
func (f *Facade) Validate() error {
	var errs error
	fail := func(nodeID, format string, args ...any) {
		errs = multierr.Append(errs, domain.NewModelValidationError(nodeID, format, args...))
	}

	if len(f.nodes) != len(f.model.Nodes) {
		seen := make(map[string]bool)
		for _, n := range f.model.Nodes {
			if seen[n.ID] {
				fail(n.ID, "duplicate node id")
			}
			seen[n.ID] = true
		}
	}
	if len(f.StartNodes()) == 0 {
		fail("", "model %q has no start event", f.model.ID)
	}

	for _, fl := range f.model.Flows {
		if _, ok := f.nodes[fl.SourceRef]; !ok {
			fail(fl.SourceRef, "sequence flow %s has unknown source", fl.ID)
		}
		if _, ok := f.nodes[fl.TargetRef]; !ok {
			fail(fl.TargetRef, "sequence flow %s has unknown target", fl.ID)
		}
	}

	links := make(map[string]int)
	for i := range f.model.Nodes {
		n := &f.model.Nodes[i]
		for _, id := range append(append([]string{}, n.Incoming...), n.Outgoing...) {
			if _, ok := f.flows[id]; !ok {
				fail(n.ID, "references unknown sequence flow %q", id)
			}
		}
		if n.DefaultFlow != "" {
			if fl, ok := f.flows[n.DefaultFlow]; !ok || fl.SourceRef != n.ID {
				fail(n.ID, "default flow %q is not an outgoing flow", n.DefaultFlow)
			}
		}
		switch n.Kind {
		case domain.KindBoundaryEvent:
			f.validateBoundary(n, fail)
		case domain.KindSubProcess:
			sub, err := f.SubProcessFacade(n)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if err := sub.Validate(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sub process %s: %w", n.ID, err))
			}
		case domain.KindIntermediateCatchEvent:
			if n.EventKind() == domain.EventLink {
				links[n.EventName()]++
			}
		case domain.KindIntermediateThrowEvent:
			if n.EventKind() == domain.EventLink && len(f.LinkCatchEventsByName(n.EventName())) != 1 {
				fail(n.ID, "link %q must resolve to exactly one catch event", n.EventName())
			}
		}
		if n.Kind.IsEvent() && n.EventKind() == domain.EventTimer && n.Event.Timer == nil {
			fail(n.ID, "timer event without timer definition")
		}
	}
	for name, count := range links {
		if count > 1 {
			fail("", "%d link catch events named %q", count, name)
		}
	}

	for _, id := range f.unreachable() {
		fail(id, "node is unreachable")
	}
	return errs
}

func (f *Facade) validateBoundary(n *domain.FlowNode, fail func(string, string, ...any)) {
	host, ok := f.nodes[n.AttachedTo]
	if !ok {
		fail(n.ID, "boundary event attached to unknown node %q", n.AttachedTo)
		return
	}
	switch host.Kind {
	case domain.KindStartEvent, domain.KindEndEvent, domain.KindExclusiveGateway,
		domain.KindParallelGateway, domain.KindBoundaryEvent:
		fail(n.ID, "boundary event cannot be attached to %s %q", host.Kind, host.ID)
	}
	switch n.EventKind() {
	case domain.EventError, domain.EventTimer, domain.EventMessage, domain.EventSignal:
	default:
		fail(n.ID, "unsupported boundary event definition %q", n.EventKind())
	}
	if !n.Interrupting() {
		fail(n.ID, "non-interrupting boundary events are not supported")
	}
}

// unreachable crawls the graph from every entry point (start events, boundary
// events and link catch events) and returns the nodes never visited.
func (f *Facade) unreachable() []string {
	visited := make(map[string]bool)
	var queue []string
	for i := range f.model.Nodes {
		n := &f.model.Nodes[i]
		entry := n.Kind == domain.KindStartEvent ||
			n.Kind == domain.KindBoundaryEvent ||
			(n.Kind == domain.KindIntermediateCatchEvent && n.EventKind() == domain.EventLink)
		if entry {
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, fl := range f.outgoing[current] {
			if !visited[fl.TargetRef] {
				queue = append(queue, fl.TargetRef)
			}
		}
	}

	var out []string
	for _, n := range f.model.Nodes {
		if !visited[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
