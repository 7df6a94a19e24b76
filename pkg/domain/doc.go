/*
Package domain contains the core types of the process engine.

It defines the process graph (ProcessModel, FlowNode, SequenceFlow), the data
threaded through execution (ProcessToken, ResultEntry), the durable execution
record (FlowNodeInstance) and the error taxonomy. The package is kept pure and
free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - FlowNode: a task, gateway or event. Kind is a closed set; events carry an EventDefinition.
  - ProcessToken: payload plus append-only result history of one execution lineage.
  - FlowNodeInstance: the persisted lifecycle of one node execution
    (running, suspended, finished, error, cancelled).
  - Notification: the envelope exchanged over the notification channel.
*/
package domain
