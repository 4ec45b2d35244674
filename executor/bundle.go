package executor

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFile is the name of the entry point manifest inside a bundle.
const ManifestFile = "entry_point.json"

// Manifest describes the callable a function bundle exposes.
type Manifest struct {
	File        string `json:"file"`
	ClassName   string `json:"class_name,omitempty"`
	Method      string `json:"method"`
	FunctionKey string `json:"function_key"`
}

// BuildBundle zips the manifest together with the source files of a user
// function. The entry point file must be one of files.
func BuildBundle(m Manifest, files map[string][]byte) ([]byte, error) {
	if m.FunctionKey == "" || m.Method == "" || m.File == "" {
		return nil, fmt.Errorf("bundle manifest needs a function key, a method and a file")
	}
	if _, ok := files[m.File]; !ok {
		return nil, fmt.Errorf("entry point file %q is not part of the bundle", m.File)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, ManifestFile, manifest); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == ManifestFile {
			continue
		}
		if err := writeZipEntry(zw, name, files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add %s to bundle: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to add %s to bundle: %w", name, err)
	}
	return nil
}

// unpackBundle extracts data into dir and returns the parsed manifest.
func unpackBundle(data []byte, dir string) (*Manifest, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("function bundle is not a zip archive: %w", err)
	}

	root := filepath.Clean(dir)
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return nil, fmt.Errorf("bundle entry %q escapes the extract directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractZipEntry(f, target); err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("function bundle has no %s: %w", ManifestFile, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ManifestFile, err)
	}
	return &m, nil
}

func extractZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open bundle entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract bundle entry %s: %w", f.Name, err)
	}
	return out.Close()
}
