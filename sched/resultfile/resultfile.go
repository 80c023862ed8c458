// Package resultfile names and decodes the result artifact of a task:
// the stdout a completed run produced (written to disk when non-empty
// and the task may write results, whatever its return code) or, for
// result directories, archives produced by a task under its result root.
package resultfile

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding a result payload was detected as.
type Format string

const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatTOML   Format = "toml"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatUnsure Format = ""
)

var extensions = map[Format]string{
	FormatJSON:  ".json",
	FormatYAML:  ".yaml",
	FormatTOML:  ".toml",
	FormatTar:   ".tar",
	FormatTarGz: ".tar.gz",
}

// EncodingError reports that a result payload's format could not be
// determined; the file is still written, without a recognized suffix.
type EncodingError struct {
	Name string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("result encoding error: could not determine a format for task %q's result", e.Name)
}

// detectOrder tries formats in this order: JSON, YAML, TOML, TAR,
// TAR.GZ. This deliberately does not match the declaration order of
// the originating enum (JSON, YAML, TOML moved ahead of the archive
// formats, per DESIGN.md) because JSON is both the most common and the
// cheapest to reject on malformed input, so trying it first minimizes
// wasted work across the common case.
var detectOrder = []Format{FormatJSON, FormatYAML, FormatTOML, FormatTar, FormatTarGz}

// Detect determines which format a result payload is encoded in,
// trying each candidate in detectOrder and keeping the first success.
func Detect(data []byte) Format {
	for _, f := range detectOrder {
		if sniff(f, data) {
			return f
		}
	}
	return FormatUnsure
}

func sniff(f Format, data []byte) bool {
	switch f {
	case FormatJSON:
		var v any
		return json.Unmarshal(data, &v) == nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return false
		}
		_, isString := v.(string)
		return !isString
	case FormatTOML:
		var v map[string]any
		return toml.Unmarshal(data, &v) == nil
	case FormatTar:
		return isTar(data)
	case FormatTarGz:
		return isTarGz(data)
	}
	return false
}

func isTar(data []byte) bool {
	tr := tar.NewReader(bytes.NewReader(data))
	_, err := tr.Next()
	return err == nil
}

func isTarGz(data []byte) bool {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return false
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	_, err = tr.Next()
	return err == nil
}

// Name builds the on-disk result file name: result-<unix>-<YYYYMMDDTHHMMSS>-<taskname><ext>.
// ext is empty when the format could not be determined.
func Name(taskName string, at time.Time, format Format) string {
	stamp := at.UTC().Format("20060102T150405")
	ext := extensions[format]
	return fmt.Sprintf("result-%d-%s-%s%s", at.UTC().Unix(), stamp, taskName, ext)
}

// Write persists a task's result bytes under root, returning the final
// path. If the format can't be determined, the file is still written
// (without a suffix) and an *EncodingError is returned alongside the
// path so the caller can log it without losing the data.
func Write(writeFile func(path string, data []byte) error, root, taskName string, at time.Time, data []byte) (string, error) {
	format := Detect(data)
	path := filepath.Join(root, Name(taskName, at, format))
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("writing result file for task %q: %w", taskName, err)
	}
	if format == FormatUnsure {
		return path, &EncodingError{Name: taskName}
	}
	return path, nil
}

// Decode parses a result payload's bytes per its detected format. For
// archive formats, it returns the list of member names found rather
// than attempting to flatten the archive's content into a single
// value.
func Decode(data []byte) (Format, any, error) {
	format := Detect(data)
	switch format {
	case FormatJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return format, nil, err
		}
		return format, v, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return format, nil, err
		}
		return format, v, nil
	case FormatTOML:
		var v map[string]any
		if err := toml.Unmarshal(data, &v); err != nil {
			return format, nil, err
		}
		return format, v, nil
	case FormatTar:
		names, err := tarMembers(bytes.NewReader(data))
		return format, names, err
	case FormatTarGz:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return format, nil, err
		}
		defer gr.Close()
		names, err := tarMembers(gr)
		return format, names, err
	default:
		return FormatUnsure, nil, fmt.Errorf("result payload format could not be determined")
	}
}

func tarMembers(r io.Reader) ([]string, error) {
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return names, err
		}
		names = append(names, hdr.Name)
	}
	return names, nil
}
