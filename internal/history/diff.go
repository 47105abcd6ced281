package history

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nova-run/novad/pkg/types"
)

// contentBlock is the subset of an assistant message's content-block
// shape this package cares about: tool_use blocks naming a file edit.
type contentBlock struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type editInput struct {
	FilePath  string `json:"file_path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

type writeInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// extractDiffs scans raw transcript lines for assistant tool_use blocks
// naming Edit or Write, and builds a short preview diff for each using
// go-diff, the same library and line-diff technique the local edit tool
// uses to annotate its own tool metadata.
func extractDiffs(lines []string) []types.FileDiff {
	var diffs []types.FileDiff
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var envelope struct {
			Type    string `json:"type"`
			Message struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			continue
		}
		if envelope.Type != "assistant" || envelope.Message.Role != "assistant" {
			continue
		}

		var blocks []contentBlock
		if err := json.Unmarshal(envelope.Message.Content, &blocks); err != nil {
			continue
		}

		for _, b := range blocks {
			if b.Type != "tool_use" {
				continue
			}
			switch b.Name {
			case "Edit":
				var in editInput
				if err := json.Unmarshal(b.Input, &in); err != nil || in.FilePath == "" {
					continue
				}
				diffs = append(diffs, buildDiff(in.FilePath, in.OldString, in.NewString))
			case "Write":
				var in writeInput
				if err := json.Unmarshal(b.Input, &in); err != nil || in.FilePath == "" {
					continue
				}
				diffs = append(diffs, buildDiff(in.FilePath, "", in.Content))
			}
		}
	}
	return diffs
}

func buildDiff(path, before, after string) types.FileDiff {
	if before == after {
		return types.FileDiff{Path: path}
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	preview := dmp.PatchToText(patches)
	if len(preview) > 400 {
		preview = preview[:400] + "..."
	}

	return types.FileDiff{
		Path:      path,
		Additions: additions,
		Deletions: deletions,
		Preview:   preview,
	}
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
