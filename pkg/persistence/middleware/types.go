// Package middleware decorates a FlowNodeInstanceRepository.
package middleware

import "github.com/aretw0/processengine/pkg/ports"

// Middleware allows wrapping a repository to add behavior.
type Middleware func(ports.FlowNodeInstanceRepository) ports.FlowNodeInstanceRepository

// Chain wraps repo with mws. The first middleware is the outermost one.
func Chain(repo ports.FlowNodeInstanceRepository, mws ...Middleware) ports.FlowNodeInstanceRepository {
	for i := len(mws) - 1; i >= 0; i-- {
		repo = mws[i](repo)
	}
	return repo
}
