package maildir

// StagingWriteError reports that a write to the staging directory could
// not be verified: either the write itself failed, or the file size on
// disk afterwards did not match the bytes handed in. Either way the
// partial file is removed and upstream must retain the message.
type StagingWriteError struct {
	Err error
}

func (e *StagingWriteError) Error() string {
	return "writing to staging failed: " + e.Err.Error()
}

func (e *StagingWriteError) Unwrap() error {
	return e.Err
}
