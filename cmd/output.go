package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// render writes value in the structured format, or calls table for the
// human readable one.
func render(out io.Writer, format string, value interface{}, table func() error) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case "yaml", "yml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	case "table", "":
		if table == nil {
			return fmt.Errorf("table output is not supported here")
		}
		return table()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", format)
	}
}
