// Package dispatch issues transport work orders to the yard's robot control
// system.
//
// A work order pairs one Start region with one End region:
//
//	POST <url>
//	{
//	  "modelProcessCode": "checking_camera_work",
//	  "fromSystem": "yardcam",
//	  "orderId": "yardcam_0192f0c4-...",
//	  "taskOrderDetail": [{"taskPath": "S1,E1"}]
//	}
//
// A call succeeds only when the receiver answers HTTP 200 and the body carries
// the configured application success code. Every other outcome (network
// error, timeout, non-200, wrong code, unreadable body) is returned as an
// *Error. The client never retries; retry policy belongs to the caller.
package dispatch
