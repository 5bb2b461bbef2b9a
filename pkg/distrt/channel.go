/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: channel.go
Description: Fuzzer side of the distance reporting channel. The fuzzer creates one channel
per worker, hands its file to every child process and reads the record after each run.
*/

package distrt

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Channel owns a shared record that child processes write into.
type Channel struct {
	f     *os.File
	mem   []byte
	trace *Trace
}

// NewChannel creates and maps a zeroed record.
func NewChannel() (*Channel, error) {
	f, err := createSharedFile()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if err := f.Truncate(RecordSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: failed to truncate channel: %v", ErrChannelUnavailable, err)
	}
	mem, err := mapRecord(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return &Channel{f: f, mem: mem, trace: newTrace(mem, true)}, nil
}

// File returns the descriptor to pass to the child through exec.Cmd.ExtraFiles.
func (c *Channel) File() *os.File {
	return c.f
}

// Env returns the environment entry telling the child where the channel lives.
// fd is the descriptor number the file gets in the child.
func (c *Channel) Env(fd int) string {
	return EnvFD + "=" + strconv.Itoa(fd)
}

// Reset zeroes the record before an execution.
func (c *Channel) Reset() {
	c.trace.Reset()
}

// Read returns the record written by the last execution.
func (c *Channel) Read() Record {
	return c.trace.Snapshot()
}

// Close unmaps the record and closes the file.
func (c *Channel) Close() error {
	return errors.Join(unmapRecord(c.mem), c.f.Close())
}
