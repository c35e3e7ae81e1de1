// Package gadgetmesh is a reactive distributed-state substrate. State lives
// in gadgets: small reactive holders whose contents only ever move upward
// through a semilattice merge, so replicas converge no matter how updates
// are reordered, duplicated, or delayed. Conflicting information does not
// fail; it becomes a contradiction value that propagates like any other
// data.
//
// # Layout
//
//   - lattice: values and the merge operator library (max, min, or, and,
//     union, lww, latest)
//   - gadget: cells, ordinal cells, sinks; fan-out and weak handles
//   - registry: the naming scope, with deferred lookup and parent chaining
//   - wiring: spawn/wire actions, pipelines, forks, and topology documents
//   - plumber: the pattern-routed effect bus with bounded history
//   - transport: frame codec and bridges over TCP, WebSocket, NATS, and
//     in-process pairs
//   - blt: the BL/T line protocol server
//   - query: callback delivery from external match engines into gadgets
//   - storage: blob and snapshot persistence (memory and NATS JetStream KV)
//
// The cmd/gadgetmesh binary assembles these into a runnable node.
package gadgetmesh
