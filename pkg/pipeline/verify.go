/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: verify.go
Description: Determinism check. Two serializations of the same build must be byte-identical;
on mismatch the error carries a line diff of the first differences.
*/

package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	dmp "github.com/sergi/go-diff/diffmatchpatch"
)

// ErrNondeterministic is returned when two builds of the same input differ.
var ErrNondeterministic = errors.New("distance map is not deterministic")

const maxDiffLines = 20

func verifyDeterminism(first, second []byte) error {
	if bytes.Equal(first, second) {
		return nil
	}
	differ := dmp.New()
	a, b, lines := differ.DiffLinesToChars(string(first), string(second))
	diffs := differ.DiffCharsToLines(differ.DiffMain(a, b, false), lines)

	var out []string
	for _, d := range diffs {
		var sign string
		switch d.Type {
		case dmp.DiffInsert:
			sign = "+"
		case dmp.DiffDelete:
			sign = "-"
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			if len(out) == maxDiffLines {
				out = append(out, "...")
				return fmt.Errorf("%w:\n%s", ErrNondeterministic, strings.Join(out, "\n"))
			}
			out = append(out, sign+line)
		}
	}
	return fmt.Errorf("%w:\n%s", ErrNondeterministic, strings.Join(out, "\n"))
}
