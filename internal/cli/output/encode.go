package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// PrintJSON writes data as indented JSON. HTML escaping is off so memfs
// paths containing '<', '>' or '&' print as they are.
func PrintJSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

// PrintYAML writes data as YAML with two-space indentation.
func PrintYAML(w io.Writer, data any) (err error) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() {
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}()
	return enc.Encode(data)
}
