/*
Package ports defines the driven ports (interfaces) of the process engine.

These interfaces decouple the execution core from external implementations,
allowing the engine to work with various model sources, storage backends and
notification channels.

# Key Interfaces

  - ModelProvider: returns immutable ProcessModels by id.
  - Notifier: publish/subscribe-once channel for messages, signals and user tasks.
  - FlowNodeInstanceRepository: durable lifecycle records used for audit and recovery.
  - JoinStore: atomic arrival counting for parallel joins.
  - DistributedLocker: coordinates recovery across replicas.

The RunFlowNodeInstanceRepositoryContract and RunJoinStoreContract suites are
exported so every adapter can verify it honours the same semantics.
*/
package ports
