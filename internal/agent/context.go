package agent

import (
	"fmt"
	"strings"

	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/memory"
)

const personaSystem = `You are Sphere, a personal assistant with persistent memory of the user's life. You are warm, direct, and concrete; you remember what the user has told you across days and bring it up when relevant.

Your memory has layers. The conversation summary and pinned facts below cover the recent past. Older and broader knowledge lives in memory files; when the user refers to something not covered below, look it up with fetch_memory before guessing. Use list_available_memories if you are unsure what exists. Never invent memories.`

// BuildMessages assembles the inference conversation for one chat
// request: the system prompt carrying summary, pinned facts, and the
// memory file inventory, then the retained turns, then the new message.
func BuildMessages(s memory.Session, memoryFiles []string, userMessage string) []llm.Message {
	var sys strings.Builder
	sys.WriteString(personaSystem)
	fmt.Fprintf(&sys, "\n\nToday is %s.", s.Date)

	if s.Summary != "" {
		fmt.Fprintf(&sys, "\n\nConversation summary so far:\n%s", s.Summary)
	}
	if len(s.PinnedFacts) > 0 {
		sys.WriteString("\n\nPinned facts:")
		for _, f := range s.PinnedFacts {
			sys.WriteString("\n- " + f)
		}
	}
	if len(memoryFiles) > 0 {
		fmt.Fprintf(&sys, "\n\nMemory files available via fetch_memory:\n%s", strings.Join(memoryFiles, "\n"))
	}

	messages := make([]llm.Message, 0, len(s.Turns)+2)
	messages = append(messages, llm.Message{Role: "system", Content: sys.String()})
	messages = append(messages, s.Turns...)
	messages = append(messages, llm.Message{Role: "user", Content: userMessage})
	return messages
}
