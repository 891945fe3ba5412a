package db

import (
	"strings"

	"github.com/teranos/kestrel/errors"
)

// ErrClosed marks operations on a session store whose connection was
// already closed, typically a variable read after the session exited.
var ErrClosed = errors.New("session store is closed")

// Classify marks driver errors about a closed connection with ErrClosed
// and a hint. Other errors are returned unchanged. The sqlite driver
// reports closed connections only through its message.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return err
	}
	if strings.Contains(err.Error(), "database is closed") {
		return errors.WithHint(errors.Mark(err, ErrClosed), "the session has exited; start a new session to run more statements")
	}
	return err
}
