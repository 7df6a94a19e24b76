package token

import "github.com/aretw0/processengine/pkg/domain"

// deepCopy copies the JSON-like shapes payloads are made of. Other values are
// returned as is and must be treated as immutable by handlers.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

func copyToken(tok domain.ProcessToken) domain.ProcessToken {
	out := tok
	out.Payload = deepCopy(tok.Payload)
	if tok.History != nil {
		out.History = make([]domain.ResultEntry, len(tok.History))
		for i, e := range tok.History {
			e.Result = deepCopy(e.Result)
			out.History[i] = e
		}
	}
	return out
}

// MergePayloads combines the payloads of the arrivals of a join. Map payloads
// are merged shallowly in arrival order on top of the parent map payload;
// any other non-nil payload is stored under the flow node id that produced it.
func MergePayloads(parent any, arrivals []domain.ProcessToken) any {
	out := make(map[string]any)
	if m, ok := parent.(map[string]any); ok {
		for k, v := range m {
			out[k] = deepCopy(v)
		}
	}
	for _, tok := range arrivals {
		switch p := tok.Payload.(type) {
		case nil:
		case map[string]any:
			for k, v := range p {
				out[k] = deepCopy(v)
			}
		default:
			key := "branch"
			if n := len(tok.History); n > 0 {
				key = tok.History[n-1].FlowNodeID
			}
			out[key] = deepCopy(p)
		}
	}
	return out
}
