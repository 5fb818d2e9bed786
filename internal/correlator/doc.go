// Package correlator tracks in-flight sub-dispatches by request id and
// resolves each exactly once: first of matching response or timeout wins.
package correlator
