package loader

import (
	"errors"

	"github.com/pelletier/go-toml/v2"
)

// NewTOMLLoader creates a TOML loader for path.
func NewTOMLLoader(path string) *File {
	return NewTOMLLoaderWithFS(DefaultFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader with a custom file system.
func NewTOMLLoaderWithFS(fsys FileSystem, path string) *File {
	return &File{fs: fsys, path: path, format: "toml", decode: decodeTOML}
}

func decodeTOML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}
	return config, nil
}
