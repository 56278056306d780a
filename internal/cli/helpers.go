package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/pkg/config"
	"github.com/goliatone/go-datastore/pkg/logging"
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

func formatOf(path string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported file extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// readContainer loads a container record from a JSON or YAML file.
func readContainer(path string, opts ...datastore.Option) (*datastore.Container, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	opts = append([]datastore.Option{datastore.WithName(name)}, opts...)
	if format == formatYAML {
		return datastore.FromYAML(data, opts...)
	}
	return datastore.FromJSON(data, opts...)
}

func writeContainer(path string, c *datastore.Container) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}
	var data []byte
	if format == formatYAML {
		data, err = c.ToYAML()
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func printYAML(w io.Writer, value any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(value)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.NewZerolog(cfg.Logging.Level, cfg.Logging.Format, w)
}

// lookupRecord walks a dotted path through a record tree, unwrapping mapping
// and container markers.
func lookupRecord(record map[string]any, path string) (any, bool) {
	var current any = record
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if len(node) == 1 {
			for _, marker := range []string{datastore.MappingField, datastore.ContainerField} {
				if inner, ok := node[marker].(map[string]any); ok {
					node = inner
					break
				}
			}
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
