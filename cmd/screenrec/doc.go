// Package main hosts the screenrec CLI entrypoint and command graph.
//
// The Cobra command tree loads configuration once, wires the capture,
// audio, cursor and encoder adapters into a recording session, and renders
// cursor, microphone, history and readiness listings. Recording logic lives
// in the internal packages; commands here only translate flags and signals.
package main
