// Package reconcile implements the reconciler: it subscribes to
// state-store snapshots, computes the desired set of transcoder units from
// each one, and spawns, kills, and restarts live units to converge — with
// deterministic removals-before-additions-before-restarts ordering and the
// failover preemption policy described on Config.
package reconcile
