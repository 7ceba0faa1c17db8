// Package supervisor spawns and monitors the proxy and CoAP server
// children (spec §4.7), exposing a local control socket that accepts
// UP/DOWN/STAT commands (spec §6). It builds directly on
// internal/process.Manager, one instance per child, generalizing the
// teacher's single-daemon (knxd) supervision to two coordinated
// children plus a shared termination signal.
package supervisor
