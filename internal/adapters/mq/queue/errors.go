package queue

import "errors"

// ErrFull is returned by submitters when Enqueue refuses a job.
var ErrFull = errors.New("analysis queue full")
