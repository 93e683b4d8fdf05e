// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package collect

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// CSV column header and units rows
var (
	csvColumns = []string{"Time", "Displacement", "Load"}
	csvUnits   = []string{"sec", "mm", "load"}
)

// WriteCSV writes the samples as CSV. Each note becomes a leading line
// starting with '#'.
func (r *Run) WriteCSV(w io.Writer, notes ...string) error {
	if len(r.data) == 0 {
		return ErrNoData
	}

	for _, note := range notes {
		for _, line := range strings.Split(note, "\n") {
			if _, err := fmt.Fprintf(w, "# %s\n", line); err != nil {
				return err
			}
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	if err := cw.Write(csvUnits); err != nil {
		return err
	}

	row := make([]string, 3)
	for _, p := range r.data {
		row[0] = strconv.FormatFloat(p.Time, 'f', -1, 64)
		row[1] = strconv.FormatFloat(p.Position, 'f', -1, 64)
		row[2] = strconv.FormatFloat(p.Load, 'f', -1, 64)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Export is the CBOR document written by WriteCBOR
type Export struct {
	Notes  map[string]string `cbor:"notes,omitempty"`
	Points []Point           `cbor:"points"`
}

// WriteCBOR writes the samples and notes as one CBOR document
func (r *Run) WriteCBOR(w io.Writer, notes map[string]string) error {
	if len(r.data) == 0 {
		return ErrNoData
	}
	data, err := cbor.Marshal(Export{Notes: notes, Points: r.data})
	if err != nil {
		return fmt.Errorf("encode CBOR: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadCBOR decodes a document written by WriteCBOR
func ReadCBOR(rd io.Reader) (*Export, error) {
	var out Export
	if err := cbor.NewDecoder(rd).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode CBOR: %w", err)
	}
	return &out, nil
}
