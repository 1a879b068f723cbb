package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// MaxReadSize caps the files ReadFile will load.
const MaxReadSize = 1 << 20

// ReadFile returns a frontend tool that reads text files below root.
// Paths are resolved relative to root and may not leave it.
func ReadFile(root string) Tool {
	schema := NewJSONSchema()
	AddProperty(schema, "path", JSONSchemaProperty{
		Type:        "string",
		Description: "File path relative to the working directory",
	})
	AddRequired(schema, "path")

	return Tool{
		Name:        "read_file",
		Description: "Read the contents of a text file",
		Parameters:  schema,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			content, err := readFile(ctx, root, path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"path": path, "content": content}, nil
		},
	}
}

func readFile(ctx context.Context, root, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}

	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, filepath.Clean("/"+path))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside %s", path, base)
	}

	stat, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file does not exist: %s", path)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", path)
	}
	if stat.Size() > MaxReadSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d bytes)", stat.Size(), MaxReadSize)
	}

	file, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	docs, err := documentloaders.NewText(file).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load document: %w", err)
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].PageContent, nil
}
