package vllm

import (
	"encoding/json"
	"strings"
)

// Wire types for the OpenAI-compatible API surface vLLM exposes.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	TopK        int           `json:"top_k"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func visionMessage(prompt, dataURL string) chatMessage {
	return chatMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
		},
	}
}

type chatResponse struct {
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
}

type choice struct {
	Message *choiceMessage `json:"message"`
	Text    string         `json:"text"` // legacy completions shape
}

// choiceMessage tolerates both content shapes servers emit: a plain string
// or a list of typed parts.
type choiceMessage struct {
	Content json.RawMessage `json:"content"`
}

func (m *choiceMessage) text() (string, bool) {
	if m == nil || len(m.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s, true
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" {
				b.WriteString(p.Text)
			}
		}
		return b.String(), true
	}
	return "", false
}

// content extracts the generated text from the first choice, falling back
// to the legacy text field.
func (r *chatResponse) content() (string, bool) {
	if len(r.Choices) == 0 {
		return "", false
	}
	if s, ok := r.Choices[0].Message.text(); ok {
		return s, true
	}
	if r.Choices[0].Text != "" {
		return r.Choices[0].Text, true
	}
	return "", false
}

type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID string `json:"id"`
}
