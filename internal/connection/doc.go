// Package connection owns the broker session for the station fleet.
//
// A Manager moves between three states:
//
//	Disconnected -> Connecting -> Connected
//	      ^              |             |
//	      +--------------+-------------+   (failure / connection lost)
//
// After any failure it waits an exponentially growing delay (floor doubling
// to a ceiling, reset on success) before the next attempt. Only one
// reconnect loop runs at a time. Publishing while not Connected fails
// immediately with ErrNotConnected.
package connection
