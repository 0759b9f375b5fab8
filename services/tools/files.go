package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/mudler/LocalEntity/core/tools"
)

// fileActions roots every file operation inside a sandbox directory.
type fileActions struct {
	root string
}

type CreateFileAction struct{ *fileActions }
type ReadFileAction struct{ *fileActions }
type ListFilesAction struct{ *fileActions }
type DeleteFileAction struct{ *fileActions }

// NewFileActions returns the four sandboxed file tools sharing one root.
func NewFileActions(root string) (*CreateFileAction, *ReadFileAction, *ListFilesAction, *DeleteFileAction) {
	fa := &fileActions{root: root}
	return &CreateFileAction{fa}, &ReadFileAction{fa}, &ListFilesAction{fa}, &DeleteFileAction{fa}
}

// resolve jails a model-supplied path under the sandbox root.
func (f *fileActions) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	return filepath.Join(f.root, filepath.Clean("/"+path)), nil
}

type pathParams struct {
	Path string `json:"path"`
}

func (a *CreateFileAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	result := struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}{}
	if err := params.Unmarshal(&result); err != nil {
		return tools.Result{}, err
	}

	full, err := a.resolve(result.Path)
	if err != nil {
		return tools.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return tools.Result{}, fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(result.Content), 0644); err != nil {
		return tools.Result{}, fmt.Errorf("writing file: %w", err)
	}
	return tools.Result{Output: fmt.Sprintf("File created: %s", result.Path)}, nil
}

func (a *CreateFileAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "create_file",
		Description: "Create a file with the given content.",
		Properties: map[string]jsonschema.Definition{
			"path": {
				Type:        jsonschema.String,
				Description: "The file path.",
			},
			"content": {
				Type:        jsonschema.String,
				Description: "The file content.",
			},
		},
		Required: []string{"path", "content"},
		Category: "filesystem",
	}
}

func (a *ReadFileAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	var p pathParams
	if err := params.Unmarshal(&p); err != nil {
		return tools.Result{}, err
	}

	full, err := a.resolve(p.Path)
	if err != nil {
		return tools.Result{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return tools.Result{}, fmt.Errorf("file not found: %s", p.Path)
		}
		return tools.Result{}, fmt.Errorf("reading file: %w", err)
	}
	return tools.Result{Output: string(data)}, nil
}

func (a *ReadFileAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "read_file",
		Description: "Read the content of a file.",
		Properties: map[string]jsonschema.Definition{
			"path": {
				Type:        jsonschema.String,
				Description: "The file path.",
			},
		},
		Required: []string{"path"},
		Category: "filesystem",
	}
}

func (a *ListFilesAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	var p pathParams
	if err := params.Unmarshal(&p); err != nil {
		return tools.Result{}, err
	}
	if p.Path == "" {
		p.Path = "."
	}

	full, err := a.resolve(p.Path)
	if err != nil {
		return tools.Result{}, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return tools.Result{}, fmt.Errorf("listing directory: %w", err)
	}
	if len(entries) == 0 {
		return tools.Result{Output: "Directory is empty"}, nil
	}

	var lines []string
	for _, entry := range entries {
		if entry.IsDir() {
			lines = append(lines, fmt.Sprintf("%s/ (dir)", entry.Name()))
			continue
		}
		line := entry.Name()
		if info, err := entry.Info(); err == nil {
			line = fmt.Sprintf("%s (%d bytes)", entry.Name(), info.Size())
		}
		lines = append(lines, line)
	}

	return tools.Result{Output: strings.Join(lines, "\n")}, nil
}

func (a *ListFilesAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "list_files",
		Description: "List the contents of a directory.",
		Properties: map[string]jsonschema.Definition{
			"path": {
				Type:        jsonschema.String,
				Description: "The directory path (defaults to the current one).",
			},
		},
		Category: "filesystem",
	}
}

func (a *DeleteFileAction) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	var p pathParams
	if err := params.Unmarshal(&p); err != nil {
		return tools.Result{}, err
	}

	full, err := a.resolve(p.Path)
	if err != nil {
		return tools.Result{}, err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return tools.Result{}, fmt.Errorf("file not found: %s", p.Path)
		}
		return tools.Result{}, fmt.Errorf("deleting file: %w", err)
	}
	return tools.Result{Output: fmt.Sprintf("File deleted: %s", p.Path)}, nil
}

func (a *DeleteFileAction) Definition() tools.Definition {
	return tools.Definition{
		Name:        "delete_file",
		Description: "Delete a file.",
		Properties: map[string]jsonschema.Definition{
			"path": {
				Type:        jsonschema.String,
				Description: "The path of the file to delete.",
			},
		},
		Required: []string{"path"},
		Category: "filesystem",
	}
}
