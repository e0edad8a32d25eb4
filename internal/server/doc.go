// Package server runs TCP accept loops for the in-process test cluster.
//
// A Server owns one listener and hands every accepted connection to a Handler
// in its own goroutine. Connections are tracked so tests can drop all of them
// at once to simulate a node restart, and Stop waits for every handler to
// return.
package server
