package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"cropdoc-backend/internal/gemini"
	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/models"
)

const DefaultChatModel = "gemini-2.5-flash"

// ChatSender is a remote chat context that keeps its own history.
type ChatSender interface {
	SendMessage(ctx context.Context, text string) (*gemini.Response, error)
}

// ChatFactory opens a fresh remote chat seeded with systemInstruction.
type ChatFactory func(systemInstruction string) ChatSender

// NewChatFactory opens search-grounded chats on model.
func NewChatFactory(client *gemini.Client, model string) ChatFactory {
	if model == "" {
		model = DefaultChatModel
	}
	return func(systemInstruction string) ChatSender {
		return client.StartChat(model, systemInstruction, gemini.Tool{GoogleSearch: &gemini.GoogleSearch{}})
	}
}

// ConversationSession is the follow-up chat about one diseased diagnosis. It owns the
// transcript and the remote chat handle.
type ConversationSession struct {
	factory ChatFactory
	gate    *RateGate
	lang    i18n.Language
	system  string

	sendMu sync.Mutex

	mu         sync.Mutex
	remote     ChatSender
	epoch      int
	transcript []models.ConversationTurn
}

func NewConversationSession(result models.DiagnosisResult, lang i18n.Language, factory ChatFactory, gate *RateGate) (*ConversationSession, error) {
	system, err := chatSystemInstruction(result, lang)
	if err != nil {
		return nil, err
	}

	c := &ConversationSession{
		factory: factory,
		gate:    gate,
		lang:    lang,
		system:  system,
	}
	c.Reset()
	return c, nil
}

// Send appends the user turn, forwards it and appends the reply. A transport failure
// yields the localized apology turn instead of an error. If the session is reset while
// the call is in flight, the reply is returned but not recorded.
func (c *ConversationSession) Send(ctx context.Context, text string) models.ConversationTurn {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	c.transcript = append(c.transcript, models.ConversationTurn{Role: models.RoleUser, Text: text})
	remote, epoch := c.remote, c.epoch
	c.mu.Unlock()

	reply := c.forward(ctx, remote, text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == epoch {
		c.transcript = append(c.transcript, reply)
	}
	return reply
}

func (c *ConversationSession) forward(ctx context.Context, remote ChatSender, text string) models.ConversationTurn {
	fallback := models.ConversationTurn{Role: models.RoleAssistant, Text: i18n.T(c.lang, "chatErrorMessage")}

	if err := c.gate.Acquire(ctx); err != nil {
		log.Printf("Chat error: %v", err)
		return fallback
	}
	defer c.gate.Release()

	resp, err := remote.SendMessage(ctx, text)
	if err != nil {
		log.Printf("Chat error: %v", err)
		return fallback
	}

	return models.ConversationTurn{
		Role:      models.RoleAssistant,
		Text:      resp.Text(),
		Citations: resp.Citations(),
	}
}

// Reset replaces the transcript with the greeting and opens a new remote chat with
// the same system instruction.
func (c *ConversationSession) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remote = c.factory(c.system)
	c.epoch++
	c.transcript = []models.ConversationTurn{c.greeting()}
}

func (c *ConversationSession) greeting() models.ConversationTurn {
	return models.ConversationTurn{Role: models.RoleAssistant, Text: i18n.T(c.lang, "chatInitialMessage")}
}

// Transcript returns a copy of the turns so far.
func (c *ConversationSession) Transcript() []models.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ConversationTurn, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *ConversationSession) Language() i18n.Language {
	return c.lang
}

func chatSystemInstruction(result models.DiagnosisResult, lang i18n.Language) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return "", fmt.Errorf("failed to encode diagnosis: %w", err)
	}
	diagnosis := strings.TrimSpace(buf.String())

	if lang == i18n.Bengali {
		return fmt.Sprintf(chatInstructionBengali, diagnosis), nil
	}
	return fmt.Sprintf(chatInstructionEnglish, diagnosis), nil
}

const chatInstructionBengali = `You are 'Chashi Bondhu', an expert agricultural assistant for farmers in Bangladesh. You are having a conversation about a crop disease that you have just diagnosed. The diagnosis is as follows: %s. Your role is to answer follow-up questions, particularly about specific chemical treatments (fungicides, insecticides), their application methods, and where to buy them in Bangladesh. You must use the Google Search tool to find up-to-date information on product availability, suppliers, and purchasing websites, especially within Bangladesh. If you do not know the answer or are uncertain, you must use the search tool. Do not provide information you are not certain about. Base your answers on the search results. If you cannot find the information after searching, clearly state that the information is not available. Always provide safe usage instructions. Respond in simple Bengali, with English technical terms in parentheses. Your responses must be concise and well-organized. When appropriate, use headings (like '### Title'), bullet points (starting with '* '), and bold text (like '**important**') to structure your message for clarity.`

const chatInstructionEnglish = `You are 'Chashi Bondhu', an expert agricultural assistant. You are conversing about a crop disease you diagnosed. The diagnosis is: %s. Your role is to answer follow-up questions about treatments, application methods, and where to buy them. You must use the Google Search tool for up-to-date information on products and suppliers. Base your answers on search results. If information isn't found, state that clearly. Always provide safety instructions. Respond in simple English. Your responses must be concise and well-organized, using headings (like '### Title'), bullet points (starting with '* '), and bold text (like '**important**') for clarity.`
