package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// NewYAMLLoader creates a YAML loader for path.
func NewYAMLLoader(path string) *File {
	return NewYAMLLoaderWithFS(DefaultFS(), path)
}

// NewYAMLLoaderWithFS creates a YAML loader with a custom file system.
func NewYAMLLoaderWithFS(fsys FileSystem, path string) *File {
	return &File{fs: fsys, path: path, format: "yaml", decode: decodeYAML}
}

func decodeYAML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &ParseError{Path: source, Message: err.Error(), Err: err}
	}
	if config == nil {
		return nil, nil
	}
	return normalizeYAML(config).(map[string]any), nil
}

// normalizeYAML turns the map[any]any values yaml produces for non-string
// keys into map[string]any so YAML and TOML sources merge alike.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
