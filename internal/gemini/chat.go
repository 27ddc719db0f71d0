package gemini

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatSession keeps the history of a multi-turn conversation on the client side and
// replays it with every request, together with the fixed system instruction and tools.
type ChatSession struct {
	client *Client
	model  string
	system *Content
	tools  []Tool

	mu      sync.Mutex
	history []Content
}

// StartChat opens a session against model. An empty system instruction is omitted.
func (c *Client) StartChat(model, systemInstruction string, tools ...Tool) *ChatSession {
	cs := &ChatSession{
		client: c,
		model:  model,
		tools:  tools,
	}
	if systemInstruction != "" {
		cs.system = &Content{Parts: []Part{{Text: systemInstruction}}}
	}
	return cs
}

// SendMessage sends one user turn. Calls are serialized; history grows only when the
// round trip succeeds.
func (cs *ChatSession) SendMessage(ctx context.Context, text string) (*Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("gemini: message must not be empty")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	userTurn := Content{Role: RoleUser, Parts: []Part{{Text: text}}}
	contents := make([]Content, 0, len(cs.history)+1)
	contents = append(contents, cs.history...)
	contents = append(contents, userTurn)

	resp, err := cs.client.GenerateContent(ctx, cs.model, &Request{
		Contents:          contents,
		SystemInstruction: cs.system,
		Tools:             cs.tools,
	})
	if err != nil {
		return nil, err
	}

	cs.history = append(cs.history, userTurn)
	if len(resp.Candidates) > 0 {
		reply := Content{Role: RoleModel}
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.Text != "" || p.InlineData != nil {
				reply.Parts = append(reply.Parts, p)
			}
		}
		if len(reply.Parts) > 0 {
			cs.history = append(cs.history, reply)
		}
	}
	return resp, nil
}

// turns returns a copy of the turns exchanged so far.
func (cs *ChatSession) turns() []Content {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make([]Content, len(cs.history))
	copy(out, cs.history)
	return out
}
