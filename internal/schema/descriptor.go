// Package schema checks JSON-lines record streams against a declarative
// contract of required and allowed fields.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor is a loaded schema contract. Required is always a subset of Fields.
type Descriptor struct {
	Required []string `json:"required" yaml:"required"`
	Fields   []string `json:"fields" yaml:"fields"`

	required map[string]struct{}
	fields   map[string]struct{}
}

// New builds a descriptor. When fields is empty it defaults to required.
func New(required, fields []string) (*Descriptor, error) {
	d := &Descriptor{Required: required, Fields: fields}
	if err := d.compile(); err != nil {
		return nil, err
	}
	return d, nil
}

// Load reads a descriptor file. Files ending in .yml or .yaml are parsed as YAML,
// everything else as JSON.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var d Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, &d)
	default:
		err = json.Unmarshal(data, &d)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	if err := d.compile(); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	return &d, nil
}

func (d *Descriptor) compile() error {
	if len(d.Fields) == 0 {
		d.Fields = append([]string(nil), d.Required...)
	}
	d.fields = make(map[string]struct{}, len(d.Fields))
	for i, f := range d.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("fields[%d] is empty", i)
		}
		d.fields[f] = struct{}{}
	}
	d.required = make(map[string]struct{}, len(d.Required))
	for i, f := range d.Required {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("required[%d] is empty", i)
		}
		if _, ok := d.fields[f]; !ok {
			return fmt.Errorf("required field %q is not listed in fields", f)
		}
		if _, dup := d.required[f]; dup {
			return fmt.Errorf("required field %q listed twice", f)
		}
		d.required[f] = struct{}{}
	}
	return nil
}

// Allows reports whether field is part of the contract.
func (d *Descriptor) Allows(field string) bool {
	_, ok := d.fields[field]
	return ok
}
