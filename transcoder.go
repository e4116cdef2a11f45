package channel_archiver

import (
	"context"
	"time"
)

type Progress struct {
	// How much of the output has been written, in media time.
	Processed time.Duration
}

type ProgressFunc func(Progress)

// Transcoder muxes a video stream and an audio stream into a single output file.
//
// Combine must return exactly once. If timeout elapses first, the underlying process is terminated before Combine
// returns, and the error matches ErrTranscodeTimeout.
type Transcoder interface {
	Combine(ctx context.Context, videoFile, audioFile, outputFile string, timeout time.Duration, onProgress ProgressFunc) error
}
