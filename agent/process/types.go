package process

// Result describes a finished command. It is informational and never sent to the client.
type Result struct {
	// ExitCode is the child's exit status, 127 if the program could not be found, or -1 if no child ran.
	ExitCode int
	TimeMS   int64
	// Bytes is the number of output bytes forwarded to the sink.
	Bytes int64
	// Err is set when the command never ran (empty command, pipe or start failure).
	Err error
}
