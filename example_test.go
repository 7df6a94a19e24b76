package processengine_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/processengine"
	"github.com/aretw0/processengine/pkg/adapters/memory"
	"github.com/aretw0/processengine/pkg/domain"
	"github.com/aretw0/processengine/pkg/registry"
)

// ExampleNew_memory runs a model built in code, with a service task backed by
// a plain Go function.
func ExampleNew_memory() {
	model := &domain.ProcessModel{
		ID: "greeting",
		Nodes: []domain.FlowNode{
			{ID: "start", Kind: domain.KindStartEvent},
			{ID: "greet", Kind: domain.KindServiceTask, Extensions: map[string]any{
				"service": map[string]any{
					"module": "text",
					"method": "greet",
					"params": map[string]any{"name": "=name"},
				},
			}},
			{ID: "end", Kind: domain.KindEndEvent},
		},
		Flows: []domain.SequenceFlow{
			{ID: "f1", SourceRef: "start", TargetRef: "greet"},
			{ID: "f2", SourceRef: "greet", TargetRef: "end"},
		},
	}

	engine, err := processengine.New("",
		processengine.WithModelProvider(memory.NewModelProvider(model)),
		processengine.WithModule("text", registry.Methods{
			"greet": func(_ context.Context, params map[string]any, _ domain.Identity) (any, error) {
				return fmt.Sprintf("Hello, %v!", params["name"]), nil
			},
		}),
	)
	if err != nil {
		log.Fatal(err)
	}

	out, err := engine.Execute(context.Background(), "greeting", map[string]any{"name": "Ada"}, domain.Identity{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out.State)
	fmt.Println(out.Token.Payload)
	// Output:
	// completed
	// Hello, Ada!
}
