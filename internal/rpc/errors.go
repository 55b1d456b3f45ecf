package rpc

import (
	"errors"
	"fmt"
)

// ErrRetrieval matches every *RetrievalError under errors.Is.
var ErrRetrieval = errors.New("account retrieval failed")

// RetrievalError wraps a failure to fetch accounts from the ledger node.
type RetrievalError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

func (e *RetrievalError) Is(target error) bool {
	return target == ErrRetrieval
}

// IsRetryable reports whether err is a retrieval failure worth retrying.
func IsRetryable(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re) && re.Retryable
}
