package batch

// stateTransition is one edge of the per-file state machine.
type stateTransition struct {
	From FileStatus
	To   FileStatus
}

// validTransitions defines every legal per-file state change. The reducer
// treats any action implying an edge outside this table as a no-op, which
// makes stray timer callbacks and stale completion events harmless.
var validTransitions = map[stateTransition]bool{
	// Intake: hash, then either rejoin the queue or skip as a duplicate.
	{StatusQueued, StatusHashing}: true,
	{StatusHashing, StatusQueued}: true,
	{StatusQueued, StatusSkipped}: true,

	// Dispatch pipeline.
	{StatusQueued, StatusValidating}:     true,
	{StatusValidating, StatusConverting}: true,
	{StatusValidating, StatusUploading}:  true,
	{StatusConverting, StatusUploading}:  true,
	{StatusUploading, StatusSaving}:      true,
	{StatusSaving, StatusComplete}:       true,

	// Failure is reachable from any active step. Hash failure is not here:
	// an unhashable file rejoins the queue and simply cannot be deduplicated.
	{StatusValidating, StatusError}: true,
	{StatusConverting, StatusError}: true,
	{StatusUploading, StatusError}:  true,
	{StatusSaving, StatusError}:     true,

	// Recovery: a failed transfer moves straight to retrying, waits out a
	// backoff, then rejoins the queue. It never passes through error, so a
	// file with attempts left is never terminal.
	{StatusUploading, StatusRetrying}: true,
	{StatusRetrying, StatusQueued}:    true,
	// Manual retry re-queues directly.
	{StatusError, StatusQueued}: true,
}

// canTransition reports whether from → to is a legal state change.
func canTransition(from, to FileStatus) bool {
	return validTransitions[stateTransition{From: from, To: to}]
}

// canRetry reports whether a file may be retried from its current state.
func canRetry(st FileStatus) bool {
	return st == StatusError
}
