/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: serialize.go
Description: Plain text encoding of distance maps. One "id,distance" record per line,
sorted by id, distances printed with fixed precision so repeated runs are byte-identical.
The call graph intermediate file uses the same record shape keyed by function.
*/

package distance

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
)

// Precision is the number of decimals written for each distance.
const Precision = 6

// WriteTo serializes the map in block identity order.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	for _, k := range m.keys {
		c, err := fmt.Fprintf(bw, "%s,%s\n", k, strconv.FormatFloat(m.dist[k], 'f', Precision, 64))
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Bytes returns the serialized form of the map.
func (m *Map) Bytes() []byte {
	var buf bytes.Buffer
	m.WriteTo(&buf)
	return buf.Bytes()
}

// WriteFile writes the serialized map to path.
func (m *Map) WriteFile(path string) error {
	if err := os.WriteFile(path, m.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write distance map: %w", err)
	}
	return nil
}

// Parse reads and validates a serialized distance map. Any malformed line,
// negative or non-finite distance, duplicate identity or an empty map yields
// ErrMalformedDistanceFile.
func Parse(r io.Reader) (*Map, error) {
	b := NewBuilder()
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" {
			continue
		}
		id, d, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDistanceFile, lineNo, err)
		}
		if err := b.Add(id, d); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedDistanceFile, lineNo, err)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDistanceFile, err)
	}
	if len(b.dist) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrMalformedDistanceFile)
	}
	return b.Build(), nil
}

// ReadFile parses the distance map stored at path.
func ReadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open distance map: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Identities may contain commas, so the distance follows the last one.
func parseRecord(line string) (string, float64, error) {
	comma := strings.LastIndexByte(line, ',')
	if comma <= 0 {
		return "", 0, fmt.Errorf("expected id,distance: %q", line)
	}
	d, err := strconv.ParseFloat(line[comma+1:], 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad distance %q", line[comma+1:])
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return "", 0, fmt.Errorf("distance out of range: %v", d)
	}
	return line[:comma], d, nil
}

// WriteFunctionDistances writes "function,hops" records sorted by function.
func WriteFunctionDistances(w io.Writer, fd FunctionDistances) error {
	names := maps.Keys(fd)
	sort.Strings(names)
	bw := bufio.NewWriter(w)
	for _, name := range names {
		if _, err := fmt.Fprintf(bw, "%s,%d\n", name, fd[name]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseFunctionDistances reads the call graph intermediate file.
func ParseFunctionDistances(r io.Reader) (FunctionDistances, error) {
	fd := make(FunctionDistances)
	s := bufio.NewScanner(r)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		comma := strings.LastIndexByte(line, ',')
		if comma <= 0 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedDistanceFile, lineNo, line)
		}
		d, err := strconv.Atoi(line[comma+1:])
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: line %d: bad hop count", ErrMalformedDistanceFile, lineNo)
		}
		if _, dup := fd[line[:comma]]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate function %s", ErrMalformedDistanceFile, lineNo, line[:comma])
		}
		fd[line[:comma]] = d
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDistanceFile, err)
	}
	return fd, nil
}
