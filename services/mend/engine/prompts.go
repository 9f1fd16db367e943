// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// approvalToken is what the reviewer prompt instructs the model to emit
// when the changes are acceptable.
const approvalToken = "LGTM"

const systemPersona = "You are a senior software engineer fixing bugs in an existing codebase. " +
	"You are precise, conservative, and change only what the issue requires."

var identifyTemplate = prompts.PromptTemplate{
	Template: `A bug report was filed against this repository.

Issue summary: {{.summary}}
Issue description:
{{.description}}

Repository files:
{{.listing}}

Respond with ONLY a JSON array of the file paths from the list above that
must be read or changed to fix this issue. Example: ["app/main.py"]`,
	InputVariables: []string{"summary", "description", "listing"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var planTemplate = prompts.PromptTemplate{
	Template: `A bug report was filed against this repository.

Issue summary: {{.summary}}
Issue description:
{{.description}}

Repository files:
{{.listing}}

Write a short numbered plan (at most 5 steps) describing how you will fix
this issue. Do not write any code yet.`,
	InputVariables: []string{"summary", "description", "listing"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var fixTemplate = prompts.PromptTemplate{
	Template: `Fix the following issue by editing the file shown below.

Issue summary: {{.summary}}
Issue description:
{{.description}}

Repository files:
{{.listing}}

File: {{.filename}}
` + "```" + `
{{.content}}
` + "```" + `

Respond with one or more edit blocks in EXACTLY this format, and nothing else:

<<<< SEARCH
(exact lines copied from the file)
==== REPLACE
(the replacement lines)
>>>>

The SEARCH text must match the file verbatim. Keep each block as small as
possible. If the file needs no changes, respond with no blocks.`,
	InputVariables: []string{"summary", "description", "listing", "filename", "content"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var rewriteTemplate = prompts.PromptTemplate{
	Template: `Fix the following issue by rewriting the file shown below.

Issue summary: {{.summary}}
Issue description:
{{.description}}

Repository files:
{{.listing}}

File: {{.filename}}
` + "```" + `
{{.content}}
` + "```" + `

Respond with the COMPLETE corrected content of {{.filename}} and nothing
else. Do not add commentary before or after the code.`,
	InputVariables: []string{"summary", "description", "listing", "filename", "content"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

var reviewTemplate = prompts.PromptTemplate{
	Template: `You are reviewing a proposed fix for this issue.

Issue summary: {{.summary}}
Issue description:
{{.description}}

The modified files after the fix:
{{.files}}

If the changes fully resolve the issue and introduce no new problems,
respond with exactly ` + approvalToken + `. Otherwise respond with a short
critique explaining what is still wrong.`,
	InputVariables: []string{"summary", "description", "files"},
	TemplateFormat: prompts.TemplateFormatGoTemplate,
}

// renderFiles flattens the review file map into a deterministic block of
// fenced file sections.
func renderFiles(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "--- %s ---\n```\n%s\n```\n", name, files[name])
	}
	return sb.String()
}

// parseFileList extracts a JSON string array from model output. The array
// may be wrapped in a markdown fence or surrounded by prose.
func parseFileList(response string) []string {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil
	}

	var files []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &files); err != nil {
		return nil
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// isApproval reports whether a review response means "no changes needed".
func isApproval(response string) bool {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.Trim(cleaned, ".!`\"'")
	return strings.EqualFold(cleaned, approvalToken) || strings.EqualFold(cleaned, "approved")
}
