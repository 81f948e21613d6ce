package facts

import (
	"fmt"
	"strings"
)

// ToolInvocation is what a tool extractor sees: the tool's name, the input it
// received, and the short result summary the handler returned.
type ToolInvocation struct {
	Name          string
	Input         map[string]any
	ResultSummary string
}

// toolExtractor emits two or three facts describing who/what/where/when for
// one tool invocation.
type toolExtractor func(inv ToolInvocation) []*Fact

// toolExtractors maps registry tool names to their extractors. Tools not
// listed here fall back to a single generic tool_use fact.
var toolExtractors = map[string]toolExtractor{
	"send_email":            extractSendEmail,
	"create_document":       extractCreateDocument,
	"create_spreadsheet":    extractCreateSpreadsheet,
	"generate_image":        extractGenerateImage,
	"generate_video":        extractGenerateVideo,
	"write_file":            extractWriteFile,
	"search_web":            extractSearchWeb,
	"calendar_create_event": extractCalendarEvent,
	"upload_file":           extractUploadFile,
	"download_file":         extractDownloadFile,
	"list_dir":              extractListDir,
	"read_file":             extractReadFile,
	"search_code":           extractSearchCode,
	"run_shell":             extractRunShell,
	"run_python_snippet":    extractRunPython,
}

// ExtractFromTool emits facts for a completed tool invocation. Registered
// tools yield 2-3 typed facts; unknown tools yield one generic tool_use fact.
func ExtractFromTool(inv ToolInvocation) []*Fact {
	if ex, ok := toolExtractors[inv.Name]; ok {
		return dedupe(ex(inv))
	}
	return []*Fact{toolFact(inv, TypeToolUse, fmt.Sprintf("used %s", inv.Name))}
}

func toolFact(inv ToolInvocation, t Type, content string) *Fact {
	return &Fact{
		Type:       t,
		Content:    clampContent(content),
		Context:    ClampContext(inv.ResultSummary),
		Importance: ComputeImportance(t, content, inv.ResultSummary),
		Metadata:   map[string]any{"tool": inv.Name},
	}
}

func inputString(inv ToolInvocation, key string) string {
	if v, ok := inv.Input[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractSendEmail(inv ToolInvocation) []*Fact {
	to := inputString(inv, "to")
	subject := inputString(inv, "subject")
	out := []*Fact{
		toolFact(inv, TypeCommunication, fmt.Sprintf("sent email to %s: %s", to, subject)),
		toolFact(inv, TypeContact, to),
	}
	if subject != "" {
		out = append(out, toolFact(inv, TypeNote, "email subject: "+subject))
	}
	return out
}

func extractCreateDocument(inv ToolInvocation) []*Fact {
	title := inputString(inv, "title")
	return []*Fact{
		toolFact(inv, TypeFile, "created document "+title),
		toolFact(inv, TypeToolUse, "drafted document via "+inv.Name),
	}
}

func extractCreateSpreadsheet(inv ToolInvocation) []*Fact {
	title := inputString(inv, "title")
	return []*Fact{
		toolFact(inv, TypeFile, "created spreadsheet "+title),
		toolFact(inv, TypeToolUse, "built spreadsheet via "+inv.Name),
	}
}

func extractGenerateImage(inv ToolInvocation) []*Fact {
	prompt := inputString(inv, "prompt")
	return []*Fact{
		toolFact(inv, TypeToolUse, "generated image: "+prompt),
		toolFact(inv, TypeFile, "image asset from prompt "+firstWords(prompt, 8)),
	}
}

func extractGenerateVideo(inv ToolInvocation) []*Fact {
	prompt := inputString(inv, "prompt")
	return []*Fact{
		toolFact(inv, TypeToolUse, "generated video: "+prompt),
		toolFact(inv, TypeFile, "video asset from prompt "+firstWords(prompt, 8)),
	}
}

func extractWriteFile(inv ToolInvocation) []*Fact {
	path := inputString(inv, "path")
	return []*Fact{
		toolFact(inv, TypeFile, "wrote "+path),
		toolFact(inv, TypeToolUse, "file write via "+inv.Name),
	}
}

func extractSearchWeb(inv ToolInvocation) []*Fact {
	query := inputString(inv, "query")
	out := []*Fact{
		toolFact(inv, TypeToolUse, "web search: "+query),
		toolFact(inv, TypeNote, "researched "+query),
	}
	if u := urlPattern.FindString(inv.ResultSummary); u != "" {
		out = append(out, toolFact(inv, TypeURL, u))
	}
	return out
}

func extractCalendarEvent(inv ToolInvocation) []*Fact {
	title := inputString(inv, "title")
	start := inputString(inv, "start")
	return []*Fact{
		toolFact(inv, TypeAppointment, fmt.Sprintf("%s at %s", title, start)),
		toolFact(inv, TypeToolUse, "calendar event created"),
	}
}

func extractUploadFile(inv ToolInvocation) []*Fact {
	path := inputString(inv, "path")
	return []*Fact{
		toolFact(inv, TypeFile, "uploaded "+path),
		toolFact(inv, TypeToolUse, "upload via "+inv.Name),
	}
}

func extractDownloadFile(inv ToolInvocation) []*Fact {
	url := inputString(inv, "url")
	out := []*Fact{
		toolFact(inv, TypeFile, "downloaded "+url),
		toolFact(inv, TypeToolUse, "download via "+inv.Name),
	}
	if url != "" {
		out = append(out, toolFact(inv, TypeURL, url))
	}
	return out
}

func extractListDir(inv ToolInvocation) []*Fact {
	path := inputString(inv, "path")
	return []*Fact{
		toolFact(inv, TypeFile, "browsed folder "+path),
		toolFact(inv, TypeToolUse, "listed "+path),
	}
}

func extractReadFile(inv ToolInvocation) []*Fact {
	path := inputString(inv, "path")
	return []*Fact{
		toolFact(inv, TypeFile, "read "+path),
		toolFact(inv, TypeToolUse, "file read via "+inv.Name),
	}
}

func extractSearchCode(inv ToolInvocation) []*Fact {
	pattern := inputString(inv, "pattern")
	return []*Fact{
		toolFact(inv, TypeCode, "searched code for "+pattern),
		toolFact(inv, TypeToolUse, "code search via "+inv.Name),
	}
}

func extractRunShell(inv ToolInvocation) []*Fact {
	command := inputString(inv, "command")
	out := []*Fact{
		toolFact(inv, TypeCommand, command),
		toolFact(inv, TypeToolUse, "shell run"),
	}
	if m := errorPattern.FindString(inv.ResultSummary); m != "" {
		out = append(out, toolFact(inv, TypeError, m))
	}
	return out
}

func extractRunPython(inv ToolInvocation) []*Fact {
	code := inputString(inv, "code")
	out := []*Fact{
		toolFact(inv, TypeCode, "python snippet: "+firstLine(code)),
		toolFact(inv, TypeToolUse, "python run"),
	}
	if m := errorPattern.FindString(inv.ResultSummary); m != "" {
		out = append(out, toolFact(inv, TypeError, m))
	}
	return out
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
