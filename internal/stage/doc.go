// Package stage holds the shared vocabulary of pipeline phases: capability
// health records and the progress estimates reported while a phase runs.
package stage
