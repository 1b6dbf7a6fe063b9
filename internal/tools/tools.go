// Package tools defines ADK tool declarations for the compliance agent.
// Read-only tools run freely; tools that change the workspace or the
// experience store pass the gate check first.
package tools

import (
	"github.com/easeaico/adk-compliance-agent/internal/gate"
	"github.com/easeaico/adk-compliance-agent/internal/memory"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
)

// ToolsConfig holds dependencies for creating tools.
type ToolsConfig struct {
	Repo      memory.Repository
	Guard     *gate.Guard
	WorkDir   string
	Threshold float64 // duplicate threshold for record_experience; 0 uses the default
}

// --- Tool Input/Output Structs ---

// SearchExperiencesArgs is the input for search_experiences tool.
type SearchExperiencesArgs struct {
	Query string `json:"query" jsonschema:"Description of the current situation or problem"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 5)"`
}

// RecordExperienceArgs is the input for record_experience tool.
type RecordExperienceArgs struct {
	Type       string   `json:"type" jsonschema:"effective or ineffective"`
	Domain     string   `json:"domain" jsonschema:"One of Tools, Protocol, Communication, Process, Debugging, Decision"`
	Situation  string   `json:"situation" jsonschema:"What was happening"`
	Approach   string   `json:"approach" jsonschema:"What was tried"`
	Outcome    string   `json:"outcome" jsonschema:"What happened as a result"`
	Reasoning  string   `json:"reasoning" jsonschema:"Why the approach worked or failed"`
	Confidence *float64 `json:"confidence,omitempty" jsonschema:"Confidence between 0 and 1"`
	Tags       []string `json:"tags,omitempty"`
	RevisionOf *int64   `json:"revision_of,omitempty" jsonschema:"ID of the experience this one revises"`
}

// ReadFileArgs is the input for read_file_content tool.
type ReadFileArgs struct {
	Filepath string `json:"filepath" jsonschema:"Path of the file to read"`
}

// ListDirectoryArgs is the input for list_directory tool.
type ListDirectoryArgs struct {
	Path string `json:"path" jsonschema:"Directory to list, relative to the working directory"`
}

// WriteFileArgs is the input for write_file tool.
type WriteFileArgs struct {
	Filepath string `json:"filepath" jsonschema:"Path of the file to write"`
	Content  string `json:"content" jsonschema:"Full new content of the file"`
}

// Result is the output shared by every tool.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// --- Tool Declarations ---

func createSearchExperiencesTool(h *handler) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "search_experiences",
		Description: "Search recorded experiences similar to the current situation before deciding on an approach.",
	}, func(ctx tool.Context, args SearchExperiencesArgs) (Result, error) {
		return h.searchExperiences(ctx, args), nil
	})
}

func createRecordExperienceTool(h *handler) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "record_experience",
		Description: "Record what worked or did not work so it can be recalled later. Requires a valid session token.",
	}, func(ctx tool.Context, args RecordExperienceArgs) (Result, error) {
		return h.recordExperience(ctx, args), nil
	})
}

func createReadFileTool(h *handler) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "read_file_content",
		Description: "Read the content of a file inside the working directory.",
	}, func(ctx tool.Context, args ReadFileArgs) (Result, error) {
		return h.readFile(args), nil
	})
}

func createListDirectoryTool(h *handler) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "list_directory",
		Description: "List files and subdirectories inside the working directory.",
	}, func(ctx tool.Context, args ListDirectoryArgs) (Result, error) {
		return h.listDirectory(args), nil
	})
}

func createWriteFileTool(h *handler) (tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:        "write_file",
		Description: "Write a file inside the working directory. Requires a valid session token.",
	}, func(ctx tool.Context, args WriteFileArgs) (Result, error) {
		return h.writeFile(ctx, args), nil
	})
}

// BuildTools creates all agent tools with the given configuration.
func BuildTools(cfg ToolsConfig) ([]tool.Tool, error) {
	if cfg.Repo == nil || cfg.Guard == nil {
		return nil, goerr.New("tools require a repository and a guard")
	}
	h := newHandler(cfg)

	builders := []struct {
		name  string
		build func(*handler) (tool.Tool, error)
	}{
		{"search_experiences", createSearchExperiencesTool},
		{"record_experience", createRecordExperienceTool},
		{"read_file_content", createReadFileTool},
		{"list_directory", createListDirectoryTool},
		{"write_file", createWriteFileTool},
	}

	tools := make([]tool.Tool, 0, len(builders))
	for _, b := range builders {
		t, err := b.build(h)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create tool", goerr.V("tool", b.name))
		}
		tools = append(tools, t)
	}
	return tools, nil
}
