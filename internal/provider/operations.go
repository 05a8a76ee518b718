package provider

import (
	"fmt"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

// buildTasks maps an operation descriptor onto the provider's task graph:
// one import task per input, one operation task, one export task.
func buildTasks(desc models.Descriptor, files []File, params models.Parameters) map[string]any {
	tasks := make(map[string]any, len(files)+2)
	importNames := make([]string, len(files))
	for i, file := range files {
		name := importName(i)
		importNames[i] = name
		tasks[name] = map[string]any{
			"operation": "import/base64",
			"filename":  file.Name,
		}
	}

	const opName = "process"
	switch desc.Kind {
	case models.OpCompressPDF:
		tasks[opName] = map[string]any{
			"operation": "optimize",
			"input":     importNames[0],
			"profile":   compressionProfile(params.CompressionLevel),
		}
	case models.OpMergePDF:
		tasks[opName] = map[string]any{
			"operation":     "merge",
			"input":         importNames,
			"output_format": desc.OutputFormat,
		}
	case models.OpSplitPDF:
		task := map[string]any{
			"operation":     "convert",
			"input":         importNames[0],
			"output_format": desc.OutputFormat,
		}
		// Split options are the provider's to interpret; they are passed
		// through without inspection.
		if params.SplitMode == models.SplitModeRange {
			task["page_range"] = params.SplitValue
		} else {
			task["split_mode"] = params.SplitMode
			task["split_value"] = params.SplitValue
		}
		tasks[opName] = task
	default:
		input := any(importNames[0])
		if desc.Batch {
			input = importNames
		}
		tasks[opName] = map[string]any{
			"operation":     "convert",
			"input":         input,
			"output_format": desc.OutputFormat,
		}
	}

	tasks["export"] = map[string]any{
		"operation": "export/url",
		"input":     opName,
	}
	return tasks
}

// compressionProfile maps the 1-3 ordinal level onto the provider's named
// optimize profiles.
func compressionProfile(level int) string {
	switch level {
	case 3:
		return "extreme"
	case 2:
		return "medium"
	default:
		return "low"
	}
}

func importName(i int) string {
	return fmt.Sprintf("import-%d", i+1)
}
