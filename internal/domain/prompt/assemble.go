// Package prompt assembles the final prompt string sent to a worker.
// Assembly is a pure function of its inputs: equal inputs yield byte-equal
// prompts, which the worker relies on when parsing the protocol paragraphs.
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/calyptra/maestro/internal/domain/persona"
)

// Canonical protocol paragraphs. Workers detect persona events by matching
// this text; do not reword without coordinating a worker release.
const (
	ProtocolUserMessage = `To send a message to the user, output a single line:
PERSONA_EVENT {"eventType":"user_message","payload":{"message":"<text>"}}`

	ProtocolPersonaAction = `To report an action you have taken, output a single line:
PERSONA_EVENT {"eventType":"persona_action","payload":{"action":"<name>","details":"<text>"}}`

	ProtocolEmitEvent = `To emit an event for other personas, output a single line:
PERSONA_EVENT {"eventType":"emit_event","payload":{"event_type":"<type>","source_id":"<id>","data":{}}}`

	ProtocolAgentMemory = `To persist a memory for future executions, output a single line:
PERSONA_EVENT {"eventType":"agent_memory","payload":{"key":"<key>","value":"<text>"}}`

	ProtocolManualReview = `If you need a human decision before continuing, output a single line and stop:
PERSONA_EVENT {"eventType":"manual_review","payload":{"reason":"<text>"}}`

	ProtocolExecutionFlow = `Work through the task in order: read the input data, plan briefly, act, then summarize what you did. Do not ask questions unless a manual review is required.`

	ProtocolOutcomeAssessment = `End your final message with one line of the form:
OUTCOME: success | partial | failure - <one sentence justification>`
)

// executionEnvironment names the shell tools a worker sandbox provides.
const executionEnvironment = `You are running in a headless Linux environment with bash, git, curl, jq, python3, and node available. Files under /workspace persist for the duration of this execution only.`

// Assemble composes the final prompt from the persona definition, its bound
// tools, optional input data (JSON), and the names of materialized
// credentials. Sections with absent inputs are omitted.
func Assemble(p *persona.Persona, tools []persona.ToolDefinition, inputData string, credentialHints []string) string {
	var b strings.Builder

	section(&b, "# "+p.Name)
	if p.Description != "" {
		section(&b, p.Description)
	}

	writeStructured(&b, p)
	writeTools(&b, tools)

	section(&b, "## Execution Environment\n\n"+executionEnvironment)
	writeCredentials(&b, credentialHints)
	writeProtocols(&b)
	writeInputBlocks(&b, inputData)

	section(&b, "EXECUTE NOW. Begin working on the task described above using the input data provided.")

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// writeStructured emits the structured prompt sections, falling back to the
// raw system prompt as the identity when the blob is absent or unparseable.
func writeStructured(b *strings.Builder, p *persona.Persona) {
	var sp persona.StructuredPrompt
	if len(p.StructuredPrompt) == 0 || json.Unmarshal(p.StructuredPrompt, &sp) != nil {
		if p.SystemPrompt != "" {
			section(b, "## Identity\n\n"+p.SystemPrompt)
		}
		return
	}

	if sp.Identity == "" {
		sp.Identity = p.SystemPrompt
	}
	named := []struct {
		title, body string
	}{
		{"Identity", sp.Identity},
		{"Instructions", sp.Instructions},
		{"Tool Guidance", sp.ToolGuidance},
		{"Examples", sp.Examples},
		{"Error Handling", sp.ErrorHandling},
	}
	for _, s := range named {
		if s.body != "" {
			section(b, "## "+s.title+"\n\n"+s.body)
		}
	}

	// Custom sections in sorted key order for determinism.
	keys := make([]string, 0, len(sp.CustomSections))
	for k := range sp.CustomSections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := sp.CustomSections[k]; v != "" {
			section(b, "## "+k+"\n\n"+v)
		}
	}

	if sp.WebSearch != "" {
		section(b, "## Web Search\n\n"+sp.WebSearch)
	}
}

func writeTools(b *strings.Builder, tools []persona.ToolDefinition) {
	if len(tools) == 0 {
		return
	}

	var t strings.Builder
	t.WriteString("## Available Tools\n")
	for _, tool := range tools {
		t.WriteString("\n### " + tool.Name + "\n")
		if tool.Category != "" {
			t.WriteString("Category: " + tool.Category + "\n")
		}
		if tool.Description != "" {
			t.WriteString(tool.Description + "\n")
		}
		if tool.Implementation != "" {
			t.WriteString("Usage: " + tool.Implementation + "\n")
		}
		if tool.InputSchema != "" {
			t.WriteString("Input schema: " + tool.InputSchema + "\n")
		}
		if tool.CredentialName != "" {
			t.WriteString("Requires credential: " + tool.CredentialName + "\n")
		}
	}
	section(b, strings.TrimRight(t.String(), "\n"))
}

func writeCredentials(b *strings.Builder, hints []string) {
	if len(hints) == 0 {
		return
	}
	var t strings.Builder
	t.WriteString("## Available Credentials\n\nThe following credentials are present in your environment as CONNECTOR_* variables:\n")
	for _, h := range hints {
		t.WriteString("- " + h + "\n")
	}
	section(b, strings.TrimRight(t.String(), "\n"))
}

func writeProtocols(b *strings.Builder) {
	section(b, "## Communication Protocols\n\n"+strings.Join([]string{
		ProtocolUserMessage,
		ProtocolPersonaAction,
		ProtocolEmitEvent,
		ProtocolAgentMemory,
		ProtocolManualReview,
		ProtocolExecutionFlow,
		ProtocolOutcomeAssessment,
	}, "\n\n"))
}

// writeInputBlocks emits the optional use case and time filter blocks, then
// the pretty-printed input data itself.
func writeInputBlocks(b *strings.Builder, inputData string) {
	if inputData == "" {
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(inputData), &decoded); err != nil {
		section(b, "## Input Data\n\n"+inputData)
		return
	}

	if uc, ok := decoded["_use_case"].(string); ok && uc != "" {
		section(b, "## Use Case\n\nThis execution serves the use case: "+uc)
	}
	if tf, ok := decoded["_time_filter"].(string); ok && tf != "" {
		section(b, "## Time Filter\n\nOnly consider items within this window: "+tf)
	}

	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		pretty = []byte(inputData)
	}
	section(b, "## Input Data\n\n"+string(pretty))
}

func section(b *strings.Builder, s string) {
	fmt.Fprintf(b, "%s\n\n", s)
}
