// Package storage provides the document store behind kvmdash.
//
// Every key (schedules, action log, preferences, dashboard config, uptime)
// holds one JSON document that is loaded and saved as a whole. Update gives
// callers a read-modify-write critical section so concurrent writers never
// drop each other's edits.
package storage
