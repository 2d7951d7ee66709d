package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mailmerge/backend/internal/models"
)

// LoadSchema reads the expected fields from a YAML file. A missing file yields
// the built-in schema; identifier, when non-empty, overrides the file's.
func LoadSchema(path, identifier string) (models.Schema, error) {
	schema := models.DefaultSchema()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// built-in schema
		case err != nil:
			return models.Schema{}, fmt.Errorf("failed to read schema file: %w", err)
		default:
			var fromFile models.Schema
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return models.Schema{}, fmt.Errorf("failed to parse schema file: %w", err)
			}
			if len(fromFile.Fields) == 0 {
				return models.Schema{}, fmt.Errorf("schema file %s lists no fields", path)
			}
			schema = fromFile
		}
	}

	if identifier != "" {
		schema.Identifier = identifier
	}

	seen := make(map[string]bool, len(schema.Fields))
	for i, f := range schema.Fields {
		f = strings.TrimSpace(f)
		if f == "" {
			return models.Schema{}, fmt.Errorf("schema field %d is empty", i+1)
		}
		if seen[strings.ToLower(f)] {
			return models.Schema{}, fmt.Errorf("schema field %q is listed twice", f)
		}
		seen[strings.ToLower(f)] = true
		schema.Fields[i] = f
	}

	return schema, nil
}
