package prompt

import (
	"strings"
	"testing"

	"github.com/calyptra/maestro/internal/domain/persona"
)

func basePersona() *persona.Persona {
	return &persona.Persona{
		ID:           "p1",
		Name:         "Release Bot",
		Description:  "Cuts releases when asked.",
		SystemPrompt: "You are a careful release engineer.",
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	p := basePersona()
	p.StructuredPrompt = []byte(`{"identity":"id","custom_sections":{"Zeta":"z","Alpha":"a","Mid":"m"}}`)
	tools := []persona.ToolDefinition{{Name: "gitlab", Description: "GitLab API access"}}
	input := `{"b":2,"a":1,"_use_case":"release"}`

	first := Assemble(p, tools, input, []string{"CONNECTOR_GITLAB"})
	for range 5 {
		if again := Assemble(p, tools, input, []string{"CONNECTOR_GITLAB"}); again != first {
			t.Fatal("assembly is not byte-deterministic")
		}
	}
}

func TestAssembleSectionOrder(t *testing.T) {
	p := basePersona()
	tools := []persona.ToolDefinition{{Name: "gitlab"}}
	out := Assemble(p, tools, `{"key":"value"}`, []string{"CONNECTOR_GITLAB"})

	order := []string{
		"# Release Bot",
		"Cuts releases when asked.",
		"## Identity",
		"## Available Tools",
		"## Execution Environment",
		"## Available Credentials",
		"## Communication Protocols",
		"## Input Data",
		"EXECUTE NOW",
	}

	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		if idx < 0 {
			t.Fatalf("missing section %q in output:\n%s", marker, out)
		}
		if idx < last {
			t.Fatalf("section %q out of order", marker)
		}
		last = idx
	}
}

// The protocol paragraphs are parsed downstream by the worker; pin them
// byte-for-byte.
func TestProtocolParagraphsArePinned(t *testing.T) {
	pins := map[string]string{
		"user_message": `To send a message to the user, output a single line:
PERSONA_EVENT {"eventType":"user_message","payload":{"message":"<text>"}}`,
		"persona_action": `To report an action you have taken, output a single line:
PERSONA_EVENT {"eventType":"persona_action","payload":{"action":"<name>","details":"<text>"}}`,
		"emit_event": `To emit an event for other personas, output a single line:
PERSONA_EVENT {"eventType":"emit_event","payload":{"event_type":"<type>","source_id":"<id>","data":{}}}`,
		"agent_memory": `To persist a memory for future executions, output a single line:
PERSONA_EVENT {"eventType":"agent_memory","payload":{"key":"<key>","value":"<text>"}}`,
		"manual_review": `If you need a human decision before continuing, output a single line and stop:
PERSONA_EVENT {"eventType":"manual_review","payload":{"reason":"<text>"}}`,
		"execution_flow":     `Work through the task in order: read the input data, plan briefly, act, then summarize what you did. Do not ask questions unless a manual review is required.`,
		"outcome_assessment": `End your final message with one line of the form:
OUTCOME: success | partial | failure - <one sentence justification>`,
	}

	got := map[string]string{
		"user_message":       ProtocolUserMessage,
		"persona_action":     ProtocolPersonaAction,
		"emit_event":         ProtocolEmitEvent,
		"agent_memory":       ProtocolAgentMemory,
		"manual_review":      ProtocolManualReview,
		"execution_flow":     ProtocolExecutionFlow,
		"outcome_assessment": ProtocolOutcomeAssessment,
	}

	for name, want := range pins {
		if got[name] != want {
			t.Errorf("protocol paragraph %s drifted:\ngot:  %q\nwant: %q", name, got[name], want)
		}
	}

	out := Assemble(basePersona(), nil, "", nil)
	for name, want := range pins {
		if !strings.Contains(out, want) {
			t.Errorf("assembled prompt missing protocol paragraph %s", name)
		}
	}
}

func TestAssembleFallsBackToSystemPrompt(t *testing.T) {
	p := basePersona()
	p.StructuredPrompt = []byte(`{invalid json`)

	out := Assemble(p, nil, "", nil)
	if !strings.Contains(out, "## Identity\n\nYou are a careful release engineer.") {
		t.Fatal("expected raw system prompt as identity when structured prompt is unparseable")
	}
}

func TestAssembleStructuredSections(t *testing.T) {
	p := basePersona()
	p.StructuredPrompt = []byte(`{
		"identity":"Structured identity.",
		"instructions":"Do the thing.",
		"tool_guidance":"Prefer the API.",
		"error_handling":"Retry once.",
		"web_search":"Search before acting."
	}`)

	out := Assemble(p, nil, "", nil)
	for _, want := range []string{
		"## Identity\n\nStructured identity.",
		"## Instructions\n\nDo the thing.",
		"## Tool Guidance\n\nPrefer the API.",
		"## Error Handling\n\nRetry once.",
		"## Web Search\n\nSearch before acting.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing section %q", want)
		}
	}
}

func TestAssembleUseCaseAndTimeFilter(t *testing.T) {
	out := Assemble(basePersona(), nil, `{"_use_case":"triage","_time_filter":"last 24h","item":1}`, nil)

	if !strings.Contains(out, "## Use Case\n\nThis execution serves the use case: triage") {
		t.Fatal("missing use case block")
	}
	if !strings.Contains(out, "## Time Filter\n\nOnly consider items within this window: last 24h") {
		t.Fatal("missing time filter block")
	}
}

func TestAssembleToolSection(t *testing.T) {
	tools := []persona.ToolDefinition{{
		Name:           "gitlab",
		Category:       "vcs",
		Description:    "GitLab API access",
		Implementation: "/opt/tools/gitlab.sh",
		InputSchema:    `{"type":"object"}`,
		CredentialName: "gitlab",
	}}

	out := Assemble(basePersona(), tools, "", nil)
	for _, want := range []string{
		"### gitlab",
		"Category: vcs",
		"GitLab API access",
		"Usage: /opt/tools/gitlab.sh",
		`Input schema: {"type":"object"}`,
		"Requires credential: gitlab",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("tool section missing %q", want)
		}
	}
}

func TestAssembleNonObjectInputPassedThrough(t *testing.T) {
	out := Assemble(basePersona(), nil, "plain text payload", nil)
	if !strings.Contains(out, "## Input Data\n\nplain text payload") {
		t.Fatal("expected non-JSON input passed through verbatim")
	}
}
