package utils

import (
	"errors"
	"io"
	"net"
	"strings"
)

// IsErrClosed checks for errors indicating a closed connection.
func IsErrClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}
