package agents

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

const defaultMaxFileSize = 10 << 20 // 10 MiB

// FileHandler performs filesystem operations. Paths are used as given;
// normalization and sandboxing are the caller's responsibility.
type FileHandler struct{}

func NewFileHandler() *FileHandler { return &FileHandler{} }

func (a *FileHandler) Kind() string { return "file_handler" }

func (a *FileHandler) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	started := time.Now().UTC()

	operation := stringParam(inv.Input, "operation", "")
	path := stringParam(inv.Input, "path", "")
	params := mapParam(inv.Input, "parameters")
	maxSize := int64(intParam(inv.Config, "max_file_size", defaultMaxFileSize))

	var result interface{}
	var err error
	switch operation {
	case "read":
		result, err = fileRead(path, params, maxSize)
	case "write":
		result, err = fileWrite(path, inv.Input["content"], params)
	case "delete":
		err = os.Remove(path)
		result = map[string]interface{}{"deleted": err == nil, "path": path}
	case "copy":
		result, err = fileCopy(path, stringParam(params, "destination", ""))
	case "move":
		dest := stringParam(params, "destination", "")
		if dest == "" {
			err = apperrors.ValidationError("move requires parameters.destination")
		} else {
			err = os.Rename(path, dest)
			result = map[string]interface{}{"moved": err == nil, "from": path, "to": dest}
		}
	case "list":
		result, err = fileList(path)
	case "info":
		result, err = fileInfo(path)
	case "search":
		result, err = fileSearch(path, params)
	case "compress":
		result, err = fileCompress(path, params)
	case "extract":
		result, err = fileExtract(path, params)
	default:
		return nil, apperrors.ValidationError("unknown file operation: " + operation)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Output:   map[string]interface{}{"result": result, "operation": operation, "path": path},
		Metadata: Metadata{StartedAt: started, CompletedAt: time.Now().UTC()},
	}, nil
}

func fileRead(path string, params map[string]interface{}, maxSize int64) (interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > maxSize {
		return nil, apperrors.ValidationError(
			fmt.Sprintf("file exceeds max_file_size (%d > %d bytes)", info.Size(), maxSize))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	format := stringParam(params, "format", "")
	if format == "" {
		format = detectFormat(path, raw)
	}
	content, err := parseContent(raw, format)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"content": content,
		"format":  format,
		"size":    info.Size(),
	}, nil
}

// detectFormat prefers the extension and falls back to sniffing the
// content.
func detectFormat(path string, raw []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".csv":
		return "csv"
	case ".yaml", ".yml":
		return "yaml"
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "json"
	}
	return "text"
}

func parseContent(raw []byte, format string) (interface{}, error) {
	switch format {
	case "json":
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return v, nil
	case "csv":
		return parseCSVTable(strings.TrimSpace(string(raw)))
	case "yaml":
		var v interface{}
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return v, nil
	case "text", "":
		return string(raw), nil
	default:
		return nil, apperrors.ValidationError("unknown file format: " + format)
	}
}

func fileWrite(path string, content interface{}, params map[string]interface{}) (interface{}, error) {
	var raw []byte
	switch v := content.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case nil:
		return nil, apperrors.ValidationError("write requires content")
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode content: %w", err)
		}
		raw = b
	}

	if boolParam(params, "create_dirs", false) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directories: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if boolParam(params, "append", false) {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := f.Write(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return map[string]interface{}{"bytes_written": n, "path": path}, nil
}

func fileCopy(src, dst string) (interface{}, error) {
	if dst == "" {
		return nil, apperrors.ValidationError("copy requires parameters.destination")
	}
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	defer func() { _ = out.Close() }()

	n, err := io.Copy(out, in)
	if err != nil {
		return nil, fmt.Errorf("failed to copy: %w", err)
	}
	return map[string]interface{}{"bytes_copied": n, "from": src, "to": dst}, nil
}

func fileList(path string) (interface{}, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, map[string]interface{}{
			"name":     e.Name(),
			"is_dir":   e.IsDir(),
			"size":     info.Size(),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func fileInfo(path string) (interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat: %w", err)
	}
	return map[string]interface{}{
		"name":      info.Name(),
		"size":      info.Size(),
		"is_dir":    info.IsDir(),
		"mode":      info.Mode().String(),
		"modified":  info.ModTime().UTC().Format(time.RFC3339),
		"extension": filepath.Ext(path),
	}, nil
}

// fileSearch walks a directory applying glob, substring, size, and
// extension filters.
func fileSearch(root string, params map[string]interface{}) (interface{}, error) {
	pattern := stringParam(params, "pattern", "")
	substring := stringParam(params, "content", "")
	extension := stringParam(params, "extension", "")
	minSize := int64(intParam(params, "min_size", 0))
	maxSize := int64(intParam(params, "max_size", 0))

	var matches []map[string]interface{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if pattern != "" {
			ok, err := filepath.Match(pattern, d.Name())
			if err != nil {
				return apperrors.ValidationError("invalid glob pattern: " + pattern)
			}
			if !ok {
				return nil
			}
		}
		if extension != "" && !strings.EqualFold(filepath.Ext(path), extension) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if minSize > 0 && info.Size() < minSize {
			return nil
		}
		if maxSize > 0 && info.Size() > maxSize {
			return nil
		}
		if substring != "" {
			raw, err := os.ReadFile(path)
			if err != nil || !strings.Contains(string(raw), substring) {
				return nil
			}
		}
		matches = append(matches, map[string]interface{}{
			"path": path,
			"size": info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// fileCompress zips a file or directory tree.
func fileCompress(path string, params map[string]interface{}) (interface{}, error) {
	dest := stringParam(params, "destination", path+".zip")

	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := zip.NewWriter(out)
	count := 0
	base := filepath.Dir(path)

	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		f, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(f, src)
		_ = src.Close()
		if err == nil {
			count++
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return map[string]interface{}{"archive": dest, "files": count}, nil
}

// fileExtract unpacks a zip archive. Entries escaping the destination
// are rejected.
func fileExtract(path string, params map[string]interface{}) (interface{}, error) {
	dest := stringParam(params, "destination", strings.TrimSuffix(path, ".zip"))

	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	count := 0
	for _, f := range r.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return nil, apperrors.ValidationError("archive entry escapes destination: " + f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := extractEntry(f, target); err != nil {
			return nil, err
		}
		count++
	}
	return map[string]interface{}{"destination": dest, "files": count}, nil
}

func extractEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, src)
	return err
}
