// Package reporting turns a finished run's metrics into capacity reports:
// a text block for the terminal and a JSON artifact under the results
// directory. Every artifact is checked against its embedded JSON schema
// before it is written.
package reporting

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Artifact file names under the results directory.
const (
	LoadResultsFile          = "results.json"
	RPSResultsFile           = "rps_results.json"
	ProgressProbeResultsFile = "progress_probe_results.json"
	ProgressWriteResultsFile = "progress_write_results.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	LoadResultsFile:          "schemas/results.schema.json",
	RPSResultsFile:           "schemas/probe_results.schema.json",
	ProgressProbeResultsFile: "schemas/probe_results.schema.json",
	ProgressWriteResultsFile: "schemas/progress_write_results.schema.json",
}

// Report is anything that renders to both output forms.
type Report interface {
	Text() string
	ArtifactName() string
}

// Validate checks data against the schema registered for artifact.
func Validate(artifact string, data []byte) error {
	path, ok := schemaFiles[artifact]
	if !ok {
		return fmt.Errorf("reporting: no schema for %s", artifact)
	}
	schema, err := schemaFS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reporting: read schema %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("reporting: schema validation error: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("reporting: %s failed validation: %s", artifact, strings.Join(problems, "; "))
	}
	return nil
}

// WriteArtifact validates r's JSON form and writes it to dir, returning
// the file path.
func WriteArtifact(dir string, r Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reporting: encode %s: %w", r.ArtifactName(), err)
	}
	if err := Validate(r.ArtifactName(), data); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("reporting: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, r.ArtifactName())
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("reporting: write %s: %w", path, err)
	}
	return path, nil
}

// Emit prints the text summary to w and writes the JSON artifact.
func Emit(w io.Writer, dir string, r Report) (string, error) {
	text := r.Text()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := io.WriteString(w, text); err != nil {
		return "", fmt.Errorf("reporting: print summary: %w", err)
	}
	return WriteArtifact(dir, r)
}
