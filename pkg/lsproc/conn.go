package lsproc

import (
	"errors"
	"io"
)

// pipeConn joins the stdout and stdin pipes of a child process into one
// stream.
type pipeConn struct {
	r io.ReadCloser
	w io.WriteCloser
}

// Close implements io.ReadWriteCloser.
func (c *pipeConn) Close() error {
	return errors.Join(c.w.Close(), c.r.Close())
}

// Read implements io.ReadWriteCloser.
func (c *pipeConn) Read(p []byte) (n int, err error) {
	return c.r.Read(p)
}

// Write implements io.ReadWriteCloser.
func (c *pipeConn) Write(p []byte) (n int, err error) {
	return c.w.Write(p)
}

var _ io.ReadWriteCloser = (*pipeConn)(nil)
