// Package monitor tracks expected email signals. A monitoring rule names a
// subject pattern and an expected cadence; every matching email refreshes the
// rule's signal state (ACTIVE/WEAK/DEAD) and counters, and state transitions
// produce alerts that are persisted and optionally published over Redis.
//
// The package also carries the ratio monitors, which compare the windowed hit
// volumes of two signals against stepped thresholds.
package monitor
