package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DecodeSnapshot reads an already-parsed schema document in its JSON form.
// The on-disk source format (YAML configs, database introspection output) is
// the producing tool's concern; by the time it reaches this package it must
// match the Snapshot shape.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var snapshot Snapshot

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}

	return snapshot, nil
}

// LoadFile decodes a snapshot file and validates it into a Version.
func LoadFile(path string) (*Version, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema snapshot: %w", err)
	}
	defer f.Close()

	snapshot, err := DecodeSnapshot(f)
	if err != nil {
		return nil, err
	}

	return Load(snapshot)
}
