// Package file provides the binding that copies files to a connection.
package file

import (
	"context"
	"path/filepath"

	"github.com/eugenetaranov/trs/internal/binding"
)

func init() {
	binding.Register(&SendFile{})
}

// SendFile copies a local file to the target of a connection.
type SendFile struct{}

// Name returns the binding identifier.
func (b *SendFile) Name() string {
	return "send_file"
}

// Call copies the file.
//
// Parameters:
//   - conn (connection, required): Connection to copy to
//   - source (string, required): Local source path, also accepted as src
//   - dest (string, required): Remote destination path
func (b *SendFile) Call(ctx context.Context, rt binding.Runtime, params map[string]any) (*binding.Result, error) {
	h, err := binding.RequireConn(params)
	if err != nil {
		return nil, err
	}
	key := "source"
	if _, ok := params[key]; !ok {
		key = "src"
	}
	src, err := binding.RequireString(params, key)
	if err != nil {
		return nil, err
	}
	dest, err := binding.RequireString(params, "dest")
	if err != nil {
		return nil, err
	}

	failed, msg := h.SendFile(filepath.Clean(src), dest)
	return &binding.Result{Error: failed, Out: msg}, nil
}

// Ensure SendFile implements binding.Binding.
var _ binding.Binding = (*SendFile)(nil)
