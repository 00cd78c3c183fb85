package versioned

import "errors"

// Recoverable runtime errors. These surface to the host's language-level
// error construct; they never terminate the process. A published snapshot
// whose sequence number does not follow its predecessor indicates a broken
// runtime and panics instead.
var (
	ErrInvalidHandle      = errors.New("versioned: invalid handle")
	ErrWouldBlock         = errors.New("versioned: lock unavailable")
	ErrReentrantLock      = errors.New("versioned: lock already held by owner")
	ErrResourceBusy       = errors.New("versioned: variable is locked")
	ErrTransactionAborted = errors.New("versioned: transaction aborted")
	ErrInvalidToken       = errors.New("versioned: invalid or released token")
)
