// Package metrics exposes Prometheus collectors for every subsystem of
// the ACP core: authentication, heartbeat, the WebSocket message
// session, the group client, and P2P sessions. Subsystems only need to
// import this package and reference the package-level vars; nothing
// here requires a running collector server unless Handler/StartServer
// is wired into the host process.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the Prometheus registry every metric in this package is
// registered against. Using a private registry instead of the global
// default keeps library consumers from colliding with metrics their
// own process already registers.
var Registry = prometheus.NewRegistry()

const namespace = "acp"
