// Package postgres manages the service's database and Redis connections.
//
// ConnectionManager owns the primary pool used for writes and an optional set
// of read replicas picked round-robin. Replicas that stop answering pings are
// dropped by the background health routine; Replica falls back to the primary
// when none remain. The manager also accepts the sqlite3 driver for
// single-node deployments and tests, in which case replicas are not used.
package postgres
