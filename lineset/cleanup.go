package lineset

import "io"

// closer returns a function that closes c, discarding the error.
// Use with defer for read-only files where a close error carries no data loss.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}
