package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/bagpool/internal/api"
)

// readRequest decodes a JSON request from path, or stdin when path is "-".
func readRequest[T any](path string) (T, error) {
	var zero T
	if path == "" {
		return zero, fmt.Errorf("--request is required")
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return zero, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	req, err := api.DecodeJSON[T](r)
	if err != nil {
		return zero, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}

// writeJSON writes v indented to path, or stdout when path is "" or "-".
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
