// Package preflight provides readiness checks for the directories, free
// space, external programs and microphone a recording depends on.
//
// These checks run in two contexts:
//   - "screenrec record" calls RunAll before starting and refuses to record
//     when a check fails, so a recording never dies minutes in on a full disk.
//   - "screenrec status" shows every check, including optional programs.
package preflight
