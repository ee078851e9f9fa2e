// Package registry indexes live resilience pattern instances by (kind, name)
// for introspection and runtime updates.
//
// Patterns are added explicitly, typically through resilience.Register at
// process start; constructing a pattern does not register it. The control plane reads and mutates patterns exclusively through
// this index: listing, config snapshots, whitelisted config updates, metric
// snapshots, and the enable/disable gate bit.
//
// Capability interfaces ([Switchable], [Configurable], [MetricsReporter],
// [Resettable]) are discovered by type assertion, so patterns only implement
// what they support.
//
// The index is read-mostly: listing and lookup take a shared lock, only
// register and deregister take the exclusive lock.
package registry
