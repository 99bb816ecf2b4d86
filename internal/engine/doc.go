// Package engine implements the yardcam matching/dispatch engine.
//
// The engine receives raw occupancy observations from camera workers,
// debounces them, applies settled changes to the region registry, and pairs
// empty End regions with Start regions that hold material.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Camera workers call Engine.Observe, which only enqueues. Engine.Run
// dequeues observations one at a time and is the only goroutine that
// debounces, mutates the registry, and starts matches. Camera workers
// therefore never wait on matching or on an outbound call.
//
// Per-End State Machine:
//
//	Idle → Matching → Confirming → {Dispatched | Aborted} → Idle
//
// Matching and confirmation for one End region are serialized by that
// region's mutex. The grace period is a scheduled callback (Scheduler), never
// a sleep. When it fires, the confirmation re-reads the registry: the End
// must still be empty and the chosen Start must still hold material at that
// instant. Only then is the work order sent.
//
// Event Processing Flow:
//  1. Observation enqueued by a camera worker
//  2. Run dequeues it; the debouncer decides whether the region settled
//  3. A settled change is applied to the registry and journaled
//  4. The dispatcher reacts to the transition (match, clear served flag)
//  5. After the grace period the confirmation sends or aborts
//
// GUARANTEES:
//   - At most one Intent per End region at any instant
//   - A dispatch is sent only if both conditions hold at confirmation time
//   - Round robin over compatible Starts: the least recently chosen eligible
//     Start is picked next
//   - At most one successful dispatch per continuous empty cycle
//   - Every failure path clears the Intent and returns the region to Idle
package engine
