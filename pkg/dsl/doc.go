/*
Package dsl builds process models in Go with a fluent API, as an alternative
to YAML model files. It is handy for tests, generated models and embedding a
fixed process in an application.

	b := dsl.New("approval")
	b.Add("start").StartEvent().Go("review")
	b.Add("review").UserTask().Go("check")
	b.Add("check").ExclusiveGateway().
		Branch("approved == true", "done").
		Default("rejected")
	b.Add("done").EndEvent()
	b.Add("rejected").ErrorEnd("REJECTED", "request rejected")
	b.Add("late").BoundaryTimer("review", "48h").Go("rejected")

	model, err := b.Build()

Sequence flows are named "source->target", like the flows of model files
without an explicit id. Build validates the graph.
*/
package dsl
