// Package region provides the static yard topology: regions, their roles, and
// the End→Start compatibility map.
//
// This package contains type definitions and the closed region registry only.
// All other internal packages import region; region imports nothing internal.
//
// Key design constraints:
//   - The region set is closed: a Topology is built once at startup and never
//     grows. Lookups of unknown ids fail with ErrUnknownRegion.
//   - Region ids are trimmed and NFC-normalized before use, so two spellings of
//     the same id that differ only in Unicode composition compare equal.
//   - All id lists returned by a Topology are sorted, which gives callers a
//     deterministic seed order.
package region
