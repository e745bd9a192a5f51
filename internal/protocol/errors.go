package protocol

import "errors"

var (
	ErrInvalidJID      = errors.New("protocol: invalid jid")
	ErrInvalidFeatures = errors.New("protocol: invalid stream features")
)
