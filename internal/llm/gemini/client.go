package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"agent-trading-bot/internal/api"
	"agent-trading-bot/internal/llm/keypool"
	"agent-trading-bot/internal/types"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// Client talks to the Gemini generateContent API. It validates credentials
// with minimal probe calls and runs the real inference requests. Every
// non-2xx response surfaces as a *keypool.ProviderError so the pool can
// classify it.
//
// Credentials travel only in the x-goog-api-key header, never in the URL:
// request URLs end up in log lines and error strings.
type Client struct {
	http *api.Client
}

// NewClient creates a Gemini client. The endpoint may be overridden through
// GEMINI_API_ENDPOINT for proxies.
func NewClient() *Client {
	endpoint := defaultEndpoint
	if ep := os.Getenv("GEMINI_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}
	return &Client{
		http: api.NewClient(
			api.WithBaseURL(endpoint),
			api.WithTimeout(60*time.Second),
			api.WithLogging(true),
		),
	}
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Probe issues the cheapest possible real generateContent call to confirm
// the (credential, model) pair currently works.
func (c *Client) Probe(ctx context.Context, key types.Credential, model string) error {
	body := generateRequest{
		Contents:         []content{{Parts: []part{{Text: "ping"}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	}
	resp, err := c.http.POST(ctx, generatePath(model), body, authHeader(key))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &keypool.ProviderError{StatusCode: resp.StatusCode, Body: resp.String()}
	}
	return nil
}

// GenerateContent runs one inference call and returns the concatenated text
// of the first candidate.
func (c *Client) GenerateContent(ctx context.Context, key types.Credential, model, system, user string, maxTokens int, temperature float32) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: user}}}},
		GenerationConfig: &generationConfig{
			MaxOutputTokens: maxTokens,
			Temperature:     temperature,
		},
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	resp, err := c.http.POST(ctx, generatePath(model), body, authHeader(key))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", &keypool.ProviderError{StatusCode: resp.StatusCode, Body: resp.String()}
	}

	var gr generateResponse
	if err := resp.ParseJSON(&gr); err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty candidates for model %s", model)
	}
	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// ListModels returns the generateContent-capable model identifiers, with the
// "models/" resource prefix stripped.
func (c *Client) listModels(ctx context.Context, key types.Credential) ([]string, error) {
	resp, err := c.http.GET(ctx, "/models", authHeader(key))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &keypool.ProviderError{StatusCode: resp.StatusCode, Body: resp.String()}
	}

	var lr struct {
		Models []struct {
			Name             string   `json:"name"`
			SupportedActions []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := resp.ParseJSON(&lr); err != nil {
		return nil, err
	}

	var names []string
	for _, m := range lr.Models {
		supported := false
		for _, a := range m.SupportedActions {
			if a == "generateContent" {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func generatePath(model string) string {
	return fmt.Sprintf("/models/%s:generateContent", model)
}

func authHeader(key types.Credential) map[string]string {
	return map[string]string{"x-goog-api-key": key.Secret()}
}

// Lister adapts the client plus one credential into a model discovery
// collaborator for the pool's catalog.
type Lister struct {
	client *Client
	key    types.Credential
}

func NewLister(client *Client, key types.Credential) *Lister {
	return &Lister{client: client, key: key}
}

func (l *Lister) ListModels(ctx context.Context) ([]string, error) {
	return l.client.listModels(ctx, l.key)
}
