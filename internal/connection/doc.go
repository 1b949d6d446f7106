// Package connection owns the device's single logical broker connection.
//
// The Manager is a state machine:
//
//	Disconnected ──Connect()──▶ Connecting ──open──▶ Open
//	                                │                  │
//	                             failed             closed
//	                                ▼                  ▼
//	                           OpenFailed            Closed ──(error)──▶ Connecting
//	                           (stop loop)          (ok: stop loop)
//
// Transitions out of Connecting and Open happen only when the Transport
// reports them through the callback registered with Transport.Connect. The
// Manager runs entirely on the event loop and holds no locks; State is the
// only method safe to call from other goroutines.
//
// On every close the live timed task is cancelled before anything else, so a
// task bound to the old connection can never fire against the next one. A
// close with a nil error is a requested shutdown and stops the loop; any
// other close reconnects immediately with the same identity, reissuing the
// credential if it has expired.
package connection
