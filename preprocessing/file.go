package preprocessing

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Save writes q as YAML.
func (q *Quantizer) Save(path string) error {
	if !q.IsFitted() {
		return errors.NewNotFittedError("Quantizer", "Save")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(q); err != nil {
		return errors.Wrap(err, "encode quantizer")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode quantizer")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.NewIOError("write quantizer", path, err)
	}
	return nil
}

// LoadQuantizer reads a quantizer written by Save.
func LoadQuantizer(path string) (*Quantizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("read quantizer", path, err)
	}
	var q Quantizer
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&q); err != nil {
		return nil, errors.NewIOError("decode quantizer", path, err)
	}
	if err := q.Validate(q.Bits, len(q.Features)); err != nil {
		return nil, errors.Wrapf(err, "quantizer %s", path)
	}
	return &q, nil
}
