// Package stores persists docstage job and batch history in SQLite.
//
// The schema is applied with golang-migrate from embedded migrations.
// Rows carry operation names, input names, outcomes and sizes; passwords
// never reach this package. Recorder adapts a Store to engine.JobRecorder
// so the runner and batch coordinator can write history directly.
package stores
