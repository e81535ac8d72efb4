package domain

import "errors"

// ErrNotFound indicates that a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownStage indicates a dispatch request for a stage other than
// answers or observations. It is a programming error and is never queued.
var ErrUnknownStage = errors.New("unknown stage")

// ErrUnknownMessageType indicates a task message of an unrecognized kind,
// which means producer and consumer disagree on the wire format.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrNoAnswers indicates that observations were requested for an experiment
// that has no answer rows.
var ErrNoAnswers = errors.New("no answers available to generate observations")

// ErrInvalidTask indicates a decoded task failed validation.
var ErrInvalidTask = errors.New("invalid task")

// ErrLineOutOfRange indicates a line index outside the dataset.
var ErrLineOutOfRange = errors.New("line index out of range")
