/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: load.go
Description: Reading and writing program representation documents. YAML is the default
encoding, ".json" selects JSON, and a trailing ".xz" compresses either form.
*/

package program

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// Load reads and validates a program representation from path.
func Load(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open program %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream %s: %w", path, err)
		}
		r = xr
		name = strings.TrimSuffix(name, ".xz")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read program %s: %w", path, err)
	}
	return Parse(data, strings.HasSuffix(name, ".json"))
}

// Parse decodes a program document. JSON is used when asJSON is set, YAML otherwise.
func Parse(data []byte, asJSON bool) (*Program, error) {
	prog := &Program{}
	if asJSON {
		if err := json.Unmarshal(data, prog); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(prog); err != nil && err != io.EOF {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
		}
	}
	if err := prog.Validate(); err != nil {
		return nil, err
	}
	return prog, nil
}

// Save writes the program to path using the encoding implied by its extension.
func Save(prog *Program, path string) error {
	name := strings.TrimSuffix(path, ".xz")
	var data []byte
	var err error
	if strings.HasSuffix(name, ".json") {
		data, err = json.MarshalIndent(prog, "", "  ")
	} else {
		data, err = yaml.Marshal(prog)
	}
	if err != nil {
		return fmt.Errorf("failed to encode program: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeDocument(f, data, name != path); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func writeDocument(w io.Writer, data []byte, compress bool) error {
	if !compress {
		_, err := w.Write(data)
		return err
	}
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create xz stream: %w", err)
	}
	if _, err := xw.Write(data); err != nil {
		xw.Close()
		return err
	}
	return xw.Close()
}
