// Package loader reads routine definitions from YAML, TOML and JSON files.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/korjavin/routinetimer/pkg/models"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for files that aren't YAML, TOML or JSON
var ErrUnsupportedFormat = errors.New("unsupported routine file format")

// Format of a routine file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// DetectFormat picks the format from the file extension
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Supported reports whether path looks like a routine file
func Supported(path string) bool {
	_, err := DetectFormat(path)
	return err == nil
}

// Parse decodes a routine. Missing ids are filled with random UUIDs.
func Parse(data []byte, format Format) (models.Routine, error) {
	r, err := decode(data, format)
	if err != nil {
		return models.Routine{}, err
	}
	AssignIDs(&r, uuid.New())
	return finish(r)
}

// LoadFile reads and validates a routine file. Missing ids are derived from
// the file path, so loading the same file twice yields the same routine.
func LoadFile(path string) (models.Routine, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return models.Routine{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Routine{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	r, err := decode(data, format)
	if err != nil {
		return models.Routine{}, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	AssignIDs(&r, uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)))

	r, err = finish(r)
	if err != nil {
		return models.Routine{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func decode(data []byte, format Format) (models.Routine, error) {
	var r models.Routine
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &r); err != nil {
			return r, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &r); err != nil {
			return r, fmt.Errorf("failed to parse TOML: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&r); err != nil {
			return r, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return r, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return r, nil
}

func finish(r models.Routine) (models.Routine, error) {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return models.Routine{}, err
	}
	return r, nil
}

// AssignIDs fills empty routine, lane, step and prep task ids. The routine gets
// base as its id; everything else is derived from the routine id and position.
func AssignIDs(r *models.Routine, base uuid.UUID) {
	if r.ID == "" {
		r.ID = base.String()
	}
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte(r.ID))
	derive := func(parts ...string) string {
		return uuid.NewSHA1(ns, []byte(strings.Join(parts, "/"))).String()
	}

	for i := range r.SwimLanes {
		lane := &r.SwimLanes[i]
		if lane.ID == "" {
			lane.ID = derive("lane", fmt.Sprint(i))
		}
		for j := range lane.Steps {
			if lane.Steps[j].ID == "" {
				lane.Steps[j].ID = derive("lane", fmt.Sprint(i), "step", fmt.Sprint(j))
			}
		}
	}
	for i := range r.PrepTasks {
		if r.PrepTasks[i].ID == "" {
			r.PrepTasks[i].ID = derive("prep", fmt.Sprint(i))
		}
	}
}
