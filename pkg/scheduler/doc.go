// Package scheduler runs a routine: it owns every lane's wait countdown and step
// timer, applies play/pause/stop and per-step controls, and shrinks waiting lanes'
// wait periods whenever a step completes or is skipped so lanes keep finishing together.
package scheduler
