package core

import (
	"coco/internal/tools"
)

// RegisterAll registers the filesystem and document tools. Always available;
// no external credentials involved.
func RegisterAll(registry *tools.Registry, cfg Config) error {
	all := []*tools.Tool{
		ReadFileTool(cfg),
		WriteFileTool(cfg),
		ListDirTool(cfg),
		UploadFileTool(cfg),
		SearchCodeTool(cfg),
		CreateDocumentTool(cfg),
		CreateSpreadsheetTool(cfg),
	}
	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
