package memory

import (
	"fmt"
	"strings"
)

// Prompt templates for the memory pipeline. All of them instruct the
// model to answer in the user's working language and without markdown
// fences, though structured.StripFences cleans up when it ignores that.

const bootstrapSummarySystem = `You maintain a running summary of an ongoing conversation between a user and their personal assistant. Write a concise third-person summary of what has happened so far: topics discussed, decisions made, facts the user shared about themselves, and any open threads. Plain text only, no headings, no code fences.`

const mergeSummarySystem = `You maintain a running summary of an ongoing conversation between a user and their personal assistant. You are given the existing summary and the turns that occurred since it was written. Produce an updated summary that folds the new turns in. Keep it concise, keep stable facts, drop chit-chat. Plain text only, no headings, no code fences.`

const daySummarySystem = `The day is ending. You are given a running summary and the remaining conversation turns of today's session with a personal assistant. Write a complete summary of the whole day: what the user did, discussed, decided, and felt. This becomes the permanent record of the day, so prefer completeness over brevity. Plain text only, no code fences.`

const consolidateSystem = `You maintain the assistant's carry-over context. You are given the summary of the day that just ended. Distill it into a short briefing the assistant should carry into tomorrow: ongoing projects, unresolved questions, commitments, and the user's current state of mind. Leave out anything that only mattered today. Plain text only, no code fences.`

const patchDetectSystem = `You review a day's conversation between a user and their personal assistant and decide which long-term memory files should be updated. You are given the conversation turns and the list of existing memory files.

Respond with a JSON array, one object per file to change:
[{"filename": "career.md", "reason": "why this file", "change_instruction": "what to add or change, with enough detail to apply without the summary"}]

Rules:
- Only propose a change when the day produced durable information: lasting facts, preferences, milestones, relationship or health changes.
- Reuse an existing file when the topic fits; propose a new descriptive filename only for a genuinely new topic area.
- Filenames are lowercase, end in .md, and never contain the words "session" or "archive".
- Respond with [] when nothing is worth recording. No prose around the JSON.`

const patchScaffoldSystem = `You create a new long-term memory file for a personal assistant. Produce a complete markdown document: a single "# Title" line, then "## Topic" sections with dated entries like "[2025-03-14] ...". Write only the document, no fences, no commentary.`

const patchEditSystem = `You update a long-term memory file for a personal assistant. You are given the current document and an instruction. Apply the instruction while preserving the document's existing structure and all existing content. Date new entries like "[2025-03-14]". When something recorded earlier turns out to be wrong, annotate it with a dated correction instead of deleting it. Output the full updated document only, no fences, no commentary.`

func formatTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

func bootstrapSummaryUser(turns []Turn) string {
	return "Conversation so far:\n\n" + formatTurns(turns)
}

func mergeSummaryUser(summary string, turns []Turn) string {
	return fmt.Sprintf("Existing summary:\n%s\n\nNew turns:\n\n%s", summary, formatTurns(turns))
}

func daySummaryUser(summary string, turns []Turn) string {
	if summary == "" {
		return "Today's conversation:\n\n" + formatTurns(turns)
	}
	return fmt.Sprintf("Running summary of today:\n%s\n\nRemaining turns:\n\n%s", summary, formatTurns(turns))
}

func patchDetectUser(turns []Turn, files []string) string {
	return fmt.Sprintf("Existing memory files:\n%s\n\nToday's conversation:\n\n%s",
		strings.Join(files, "\n"), formatTurns(turns))
}

func patchScaffoldUser(filename, instruction, date string) string {
	return fmt.Sprintf("Today is %s. Create the file %q.\n\nInstruction:\n%s", date, filename, instruction)
}

func patchEditUser(filename, content, instruction, date string, headings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Update the file %q.\n\n", date, filename)
	if len(headings) > 0 {
		fmt.Fprintf(&b, "Sections that must survive the edit: %s\n\n", strings.Join(headings, ", "))
	}
	fmt.Fprintf(&b, "Current content:\n%s\n\nInstruction:\n%s", content, instruction)
	return b.String()
}
