// Package harness runs yard scenarios against the real engine with a manual
// clock and a scripted dispatch client.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_a_basic_dispatch
//	description: "An empty End is fed from the only loaded Start"
//	config:
//	  debounce_threshold: 3
//	  grace_period: 5s
//	  regions:
//	    - {id: S1, role: start, camera: cam-a}
//	    - {id: E1, role: end, camera: cam-b}
//	  compatibility:
//	    E1: [S1]
//	responses:
//	  - {status: 500}
//	steps:
//	  - observe: {region: S1, occupied: true}
//	  - observe: {region: E1, occupied: false, frames: 3}
//	  - elapse: 5s
//	assertions:
//	  - type: dispatched
//	    start: S1
//	    end: E1
//	  - type: notified
//	    end: E1
//	    value: true
//
// config is the same structure as a yardcam config file; only the engine
// settings, regions and compatibility matter here. responses script the
// dispatch client in call order; once exhausted every call succeeds.
//
// # Steps
//
//   - observe: feeds frames identical readings (default: the debounce
//     threshold, which settles the region). camera defaults to the region's
//     owning camera.
//   - elapse: advances the manual clock, firing due confirmations.
//
// After the last step the engine is closed, so intents still inside their
// grace period are journaled as aborted with reason "stopped".
//
// # Assertion Types
//
//   - dispatched: a dispatch for start/end was accepted
//   - dispatch_count: number of accepted dispatches (optionally for one end)
//   - dispatch_order: accepted pairs in order, as "start,end"
//   - no_dispatch: no accepted dispatch (optionally for one end)
//   - notified: the end's notified flag equals value
//   - attempts: number of journaled attempts matching end/outcome/reason
//   - sends: number of calls made to the dispatch client
//
// # Golden Files
//
// RunWithGolden compares the journal trace against
// testdata/golden/<name>.golden. To regenerate:
//
//	go test ./internal/harness -update
package harness
