/*
Package processengine executes BPMN-style process models.

A process model is a graph of flow nodes (events, gateways, tasks and sub
processes) joined by sequence flows. The engine walks the graph for one
process instance at a time: it evaluates gateway conditions, forks and
rejoins parallel branches, and suspends on user tasks, messages, signals and
timers. Every node execution is persisted as a FlowNodeInstance record, so a
restarted engine can pick suspended instances up again with Recover.

# Models

Models are plain YAML (or JSON) documents, one per file:

	id: approval
	nodes:
	  - {id: start, kind: startEvent}
	  - {id: review, kind: userTask}
	  - {id: check, kind: exclusiveGateway, default_flow: review->rejected}
	  - {id: approved, kind: endEvent}
	  - {id: rejected, kind: endEvent}
	flows:
	  - {source: start, target: review}
	  - {source: review, target: check}
	  - {source: check, target: approved, condition: "approved == true"}
	  - {source: check, target: rejected}

Conditions and script tasks are HCL expressions evaluated against the
current payload.

# Usage

	eng, err := processengine.New("./models")
	if err != nil {
		log.Fatal(err)
	}
	inst, err := eng.Start(ctx, "approval", map[string]any{"amount": 10}, domain.Identity{UserID: "alice"})
	// ... later, from a UI or an API handler:
	tasks, _ := eng.SuspendedUserTasks(ctx, "approval")
	_ = eng.FinishUserTask(ctx, tasks[0].ID, map[string]any{"approved": true})
	out, err := inst.Wait(ctx)

Durable deployments plug the bolt or redis adapters in with WithRepository
and WithJoinStore, and call Recover once at boot.
*/
package processengine
