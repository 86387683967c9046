// Package session holds the keyboard session state machine and the single
// control loop every host event, content callback and registry notification
// runs on.
//
// The Agent is the host-facing entry point. Each of its methods posts work
// to the Loop and, for getters, waits for the result. Session itself is not
// safe for concurrent use and is only touched from the loop.
package session
