package textsource

import (
	"strings"
)

// transcribePrompt is shared by every vision provider
const transcribePrompt = `You are reading a scanned invoice. Transcribe all printed text exactly as it appears, top to bottom and left to right.

Rules:
- Keep each printed line on its own line
- Keep labels next to their values (for example "Invoice Number: 12345")
- Keep numbers, currency symbols, dates and punctuation exactly as printed
- Do not summarize, translate, correct or reorder anything
- Do not add commentary before or after the transcription
- Do not use markdown code blocks`

// transcribeSystem primes chat-style models
const transcribeSystem = "You are an expert at reading invoices and transcribing their printed text verbatim."

// cleanTranscript strips markdown fences and chat preambles a model may add
// despite the prompt
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = ""
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	if len(lines) > 1 && isPreamble(lines[0]) {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isPreamble(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	if !strings.HasSuffix(l, ":") {
		return false
	}
	return strings.HasPrefix(l, "here is") || strings.HasPrefix(l, "here's") || strings.HasPrefix(l, "sure")
}

// transcribed wraps a model response as a Document
func transcribed(text string, pages int, method Method) (*Document, error) {
	text = cleanTranscript(text)
	if text == "" {
		return nil, ErrNoText
	}
	return &Document{Text: text, Pages: pages, Method: method}, nil
}
