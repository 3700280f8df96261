package agent

import (
	"fmt"
	"strings"
)

// buildSystemPrompt renders the loop grammar with the tools visible to
// this run. The format block is load-bearing: the stream parser keys on
// these exact labels.
func buildSystemPrompt(tools []*Tool) string {
	var b strings.Builder
	b.WriteString("Answer the user's question as well as you can. You have access to the following tools:\n\n")
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		fmt.Fprintf(&b, "%s: %s\n", t.Name, t.Description)
		names = append(names, t.Name)
	}
	b.WriteString("\nUse the following format:\n\n")
	b.WriteString("Question: the question you must answer\n")
	b.WriteString("Thought: think about what to do next\n")
	fmt.Fprintf(&b, "Action: the tool to use, one of [%s]\n", strings.Join(names, ", "))
	b.WriteString("Action Input: the input to the tool\n")
	b.WriteString("Observation: the result of the tool\n")
	b.WriteString("... (Thought/Action/Action Input/Observation can repeat)\n")
	b.WriteString("Thought: I now know the final answer\n")
	b.WriteString("Final Answer: the answer to the original question\n")
	b.WriteString("\nRules:\n")
	b.WriteString("- Take exactly one Action per turn, then stop and wait for the Observation.\n")
	b.WriteString("- Always write a Thought before an Action.\n")
	b.WriteString("- After an Observation, always continue with a new Thought.\n")
	b.WriteString("- If no tool is needed, go straight to the Final Answer.\n")
	return b.String()
}

// parseAction splits one action segment into tool name and input. The
// segment is everything between "Action:" and the next label, e.g.
// "knowledge_search\nAction Input: vacation policy".
func parseAction(segment string) (*Action, error) {
	name := segment
	input := ""
	if i := strings.Index(segment, "Action Input:"); i >= 0 {
		name = segment[:i]
		input = strings.TrimSpace(segment[i+len("Action Input:"):])
	}
	name = strings.TrimSpace(name)
	if j := strings.IndexByte(name, '\n'); j >= 0 {
		name = strings.TrimSpace(name[:j])
	}
	name = strings.Trim(name, "`\"' ")
	if name == "" {
		return nil, fmt.Errorf("action is missing a tool name")
	}
	return &Action{Tool: name, Input: input}, nil
}
