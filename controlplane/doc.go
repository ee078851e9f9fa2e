// Package controlplane exposes the component registry over HTTP.
//
// The server mounts under a configurable prefix (default /failsafe) and
// offers introspection and runtime control of every registered pattern:
// listing, config snapshots, whitelisted config updates, metric snapshots
// and resets, and the enable/disable gate. Mutating routes can be guarded
// with JWT bearer authentication.
//
//	reg := registry.Default()
//	cp := controlplane.New(controlplane.Config{Registry: reg})
//	mux := http.NewServeMux()
//	cp.Mount(mux)
//
// Endpoints (relative to the prefix):
//
//	GET    /health
//	GET    /liveness
//	GET    /patterns
//	GET    /config
//	GET    /config/{kind}/{name}
//	PUT    /config/{kind}/{name}
//	GET    /metrics
//	GET    /metrics/{kind}/{name}
//	DELETE /metrics/{kind}/{name}
//	POST   /control/{kind}/{name}/enable
//	POST   /control/{kind}/{name}/disable
package controlplane
