// Package hooks implements the HTTP callback contract with the embedded
// RTMP server: publish and play attempts are authorized against the current
// state document, endpoint status transitions are recorded back onto it,
// and stale unpublish callbacks from superseded clients are ignored.
package hooks
