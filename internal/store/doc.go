// Package store provides the SQLite dispatch journal.
//
// The journal is an audit log, not matching state: nothing is read back into
// the engine on restart. Every process run gets a run id (UUIDv7) and writes
// two kinds of records under it:
//
//   - region_transitions: every settled occupancy change applied to the
//     registry, stamped with the engine's logical clock
//   - dispatch_attempts: every confirmation outcome (dispatched, aborted,
//     failed), with the receiver's status and code when a call was made
//
// Ordering: reads return records ORDER BY seq ASC within a run, so a run's
// history is reproducible independent of wall-clock time.
//
// The `yardcam history` command reads this journal.
package store
