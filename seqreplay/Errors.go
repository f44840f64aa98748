package seqreplay

import "errors"

// SeqReplayError implements errors unique to a sequence replay
// buffer.
type SeqReplayError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *SeqReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errEmptyCache error = errors.New("cache empty")

var errInsufficientSamples = errors.New("minimum capacity not yet reached")

var errNoEpisode = errors.New("no episode in progress")

// IsInsufficientSamples returns whether or not an error reports that
// there are too few complete windows in the buffer to sample from the
// buffer.
//
// A buffer has too few windows to sample if the number of valid
// window start positions is less than its minimum capacity.
func IsInsufficientSamples(err error) bool {
	if replayErr, ok := err.(*SeqReplayError); ok {
		err = replayErr.Err
	}
	return err == errInsufficientSamples
}

// IsEmptyBuffer returns whether or not an error reports that a
// replay buffer is empty.
func IsEmptyBuffer(err error) bool {
	if replayErr, ok := err.(*SeqReplayError); ok {
		err = replayErr.Err
	}
	return err == errEmptyCache
}

// IsNoEpisode returns whether or not an error reports that a step was
// added to a buffer with no episode in progress.
func IsNoEpisode(err error) bool {
	if replayErr, ok := err.(*SeqReplayError); ok {
		err = replayErr.Err
	}
	return err == errNoEpisode
}
