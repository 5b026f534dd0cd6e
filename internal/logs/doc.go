// Package logs reads the screenrec log file for `screenrec logs`.
//
// Last returns the final lines with bounded memory; Follow streams lines
// appended afterwards and restarts from the top when the file is rotated or
// truncated underneath it.
package logs
