// Package conn keeps a local cache of hypervisor objects in step with a
// libvirt hypervisor by periodic polling.
//
// A Connection owns one cache per object kind (domains, networks, storage
// pools). Each cached wrapper owns exactly one remote handle; the handle is
// released when the wrapper leaves the cache, either because a
// reconciliation pass no longer sees the object or because the connection
// was torn down.
//
// Tick Cadence:
//
// Every Tick first checks liveness. A failed check tears down every cache and
// moves the connection to StateDisconnected for good. Otherwise the tick
// counter is incremented and:
//   - on the third passing tick, every kind is fully reconciled once
//   - every 2nd tick, domains are reconciled
//   - every 5th tick, networks and storage pools are reconciled
//   - every tick, each cached domain's stats are refreshed
//
// Event Delivery:
//
// Changes are reported to an Observer synchronously from the ticking
// goroutine. Bus fans events out to channel subscribers so presentation code
// can consume them on its own goroutine.
package conn
