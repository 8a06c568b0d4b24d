package pipeline

import "errors"

// ErrDisowned is wrapped into the error StageWorker.complete returns
// when its compare-and-set fails because the stage is no longer
// RUNNING under the calling worker's owner tag — its lease was revoked
// by Lease Recovery and reclaimed (or completed) by someone else.
// Callers that want to distinguish this from a genuine store failure
// should check errors.Is(err, ErrDisowned).
var ErrDisowned = errors.New("pipeline: stage lease disowned")
