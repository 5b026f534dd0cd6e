package session

import (
	"time"

	"screenrec/internal/capture"
	"screenrec/internal/mux"
)

// Stage names reported in StageFailure.
const (
	StageOpenSource  = "open_source"
	StageOpenSink    = "open_sink"
	StageOpenAudio   = "open_audio"
	StageRunLoop     = "run_loop"
	StageJoin        = "join"
	StageReleaseSink = "release_sink"
	StageCloseSource = "close_source"
	StageStopAudio   = "stop_audio"
	StageFlushAudio  = "flush_audio"
	StageMux         = "mux"
	StageHistory     = "history"
	StageUnlock      = "unlock"
)

// StageFailure is one failed step of a recording.
type StageFailure struct {
	Stage string
	Err   error
}

// Stats combines the capture counters with audio and sink bookkeeping.
type Stats struct {
	capture.Stats
	AudioChunksDropped  int
	LateFramesDiscarded uint64
}

// Result describes how a recording ended. Artifact is set whenever the sink
// produced a file, even when Failures is not empty.
type Result struct {
	SessionID  string
	BaseName   string
	ChunkIndex int
	VideoPath  string
	AudioPath  string
	Artifact   mux.Artifact
	StartedAt  time.Time
	StoppedAt  time.Time
	Elapsed    time.Duration
	Stats      Stats

	// Abandoned is set when the capture goroutine missed the join deadline.
	Abandoned bool
	Failures  []StageFailure
}

// OK reports whether every stage succeeded.
func (r Result) OK() bool {
	return len(r.Failures) == 0
}

// Worst returns the most severe failure, or nil. Ties go to the earliest.
func (r Result) Worst() error {
	var (
		worst error
		best  = len(severity) + 1
	)
	for _, f := range r.Failures {
		if n := rank(f.Err); n < best {
			worst, best = f.Err, n
		}
	}
	return worst
}

func (r *Result) fail(stage string, err error) {
	r.Failures = append(r.Failures, StageFailure{Stage: stage, Err: err})
}
