/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: distrt.go
Description: Runtime distance accounting linked into instrumented targets. Every probed
block adds its scaled distance and one hit to a two word record that lives in memory
shared with the fuzzer, so the fuzzer sees the partial trace even when the run faults.
When no channel was inherited the counters stay process-local.
*/

package distrt

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	// Scale is the fixed-point multiplier applied to distances before embedding.
	Scale = 100
	// RecordSize is the size of the shared record: total distance then total count,
	// both native-endian uint64.
	RecordSize = 16
	// EnvFD names the environment variable carrying the inherited descriptor.
	EnvFD = "AKAYLEE_DIST_FD"
	// ChildFD is the descriptor number the executor passes the channel on.
	ChildFD = 3
)

// ErrChannelUnavailable is returned when the reporting channel cannot be attached.
var ErrChannelUnavailable = errors.New("distance reporting channel unavailable")

// Record is one execution's distance statistics.
type Record struct {
	TotalDistance uint64 `json:"total_distance"`
	TotalCount    uint64 `json:"total_count"`
}

// Average returns the mean scaled distance over executed probes. The second
// result is false when no probe executed.
func (r Record) Average() (float64, bool) {
	if r.TotalCount == 0 {
		return 0, false
	}
	return float64(r.TotalDistance) / float64(r.TotalCount), true
}

// Distance returns the mean distance in unscaled units.
func (r Record) Distance() (float64, bool) {
	avg, ok := r.Average()
	return avg / Scale, ok
}

// Trace accumulates probe hits for the current process.
type Trace struct {
	mem    []byte
	dist   *uint64
	count  *uint64
	shared bool
}

func newTrace(mem []byte, shared bool) *Trace {
	t := &Trace{
		mem:    mem,
		dist:   (*uint64)(unsafe.Pointer(&mem[0])),
		count:  (*uint64)(unsafe.Pointer(&mem[8])),
		shared: shared,
	}
	t.Reset()
	return t
}

func localTrace() *Trace {
	// A uint64 backing array keeps the words aligned.
	words := make([]uint64, RecordSize/8)
	return newTrace(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), RecordSize), false)
}

// Hit records one execution of a block with the given scaled distance.
func (t *Trace) Hit(scaled uint64) {
	atomic.AddUint64(t.dist, scaled)
	atomic.AddUint64(t.count, 1)
}

// Snapshot returns the current counters.
func (t *Trace) Snapshot() Record {
	return Record{
		TotalDistance: atomic.LoadUint64(t.dist),
		TotalCount:    atomic.LoadUint64(t.count),
	}
}

// Reset zeroes the counters.
func (t *Trace) Reset() {
	atomic.StoreUint64(t.dist, 0)
	atomic.StoreUint64(t.count, 0)
}

// Shared reports whether the counters are visible to the fuzzer.
func (t *Trace) Shared() bool {
	return t.shared
}

// AttachFile maps the record stored in f. The counters are reset.
func AttachFile(f *os.File) (*Trace, error) {
	mem, err := mapRecord(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return newTrace(mem, true), nil
}

// Attach maps the channel named by EnvFD. When the variable is missing or the
// mapping fails it returns process-local counters together with
// ErrChannelUnavailable; the returned trace is always usable.
func Attach() (*Trace, error) {
	v, ok := os.LookupEnv(EnvFD)
	if !ok {
		return localTrace(), fmt.Errorf("%w: %s not set", ErrChannelUnavailable, EnvFD)
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return localTrace(), fmt.Errorf("%w: bad descriptor %q", ErrChannelUnavailable, v)
	}
	t, err := AttachFile(os.NewFile(uintptr(fd), "akaylee-dist"))
	if err != nil {
		return localTrace(), err
	}
	return t, nil
}

// The process arena is attached on first use.
var arena struct {
	once  sync.Once
	trace *Trace
	err   error
}

// Current returns the process trace, attaching it if needed. The error is
// non-nil when the channel was unavailable.
func Current() (*Trace, error) {
	arena.once.Do(func() {
		arena.trace, arena.err = Attach()
	})
	return arena.trace, arena.err
}

// Hit is the probe inserted by the instrumenter.
func Hit(scaled uint64) {
	t, _ := Current()
	t.Hit(scaled)
}
