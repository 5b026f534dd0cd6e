// Package capture samples the screen at a fixed cadence.
//
// A Source yields full-screen RGB frames, a PointerSource reports where the
// cursor is, and the Scheduler ties them together: on every tick it grabs a
// frame, composites the cursor, and forwards the result to a FrameWriter
// while the shared recording state allows it. Deadlines advance by whole
// periods from the previous deadline, so timing error never accumulates,
// and a stall is capped at a few periods of catch-up instead of a burst.
//
// The x11grab adapter runs a persistent ffmpeg process and keeps only the
// newest decoded frame; the xdotool adapter answers pointer queries.
package capture
