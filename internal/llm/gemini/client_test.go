package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"agent-trading-bot/internal/api"
	"agent-trading-bot/internal/llm/keypool"
	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/types"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{http: api.NewClient(api.WithBaseURL(srv.URL))}
}

func TestProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key-alpha" {
			t.Error("Expected credential in the x-goog-api-key header")
		}
		if r.URL.RawQuery != "" {
			t.Errorf("Expected no query parameters, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}`))
	}))
	defer srv.Close()

	if err := testClient(srv).Probe(context.Background(), "test-key-alpha", "gemini-2.0-flash"); err != nil {
		t.Fatal(err)
	}
}

func TestProbeSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	err := testClient(srv).Probe(context.Background(), "test-key-alpha", "gemini-2.0-flash")
	var pe *keypool.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if pe.StatusCode != 429 {
		t.Errorf("Expected status 429, got %d", pe.StatusCode)
	}
	if !pe.AuthOrRateLimited() {
		t.Error("Expected 429 to classify as rate limited")
	}
}

func TestGenerateContentConcatenatesParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"action\":"},{"text":"\"HOLD\"}"}]}}]}`))
	}))
	defer srv.Close()

	text, err := testClient(srv).GenerateContent(context.Background(),
		"test-key-alpha", "gemini-2.0-flash", "system", "user", 256, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if text != `{"action":"HOLD"}` {
		t.Errorf("Unexpected text: %s", text)
	}
}

func TestLogOutputNeverContainsCredential(t *testing.T) {
	secret := "AIzaSyVerySecretTestValue987654"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	// Route the logger through a pipe so the emitted lines can be inspected.
	oldStdout := os.Stdout
	rd, wr, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = wr
	logger.InitWithConfig(logger.LogConfig{Level: "DEBUG", Format: "json", DetailedLogging: true})

	c := &Client{http: api.NewClient(api.WithBaseURL(srv.URL), api.WithLogging(true))}
	probeErr := c.Probe(context.Background(), types.Credential(secret), "gemini-2.0-flash")

	wr.Close()
	os.Stdout = oldStdout
	logger.InitWithConfig(logger.LogConfig{Level: "INFO", Format: "json"})

	out, err := io.ReadAll(rd)
	if err != nil {
		t.Fatal(err)
	}

	if probeErr == nil {
		t.Fatal("Expected probe to fail against 429")
	}
	if !strings.Contains(string(out), "HTTP error response") {
		t.Fatal("Expected the warn line to be captured")
	}
	if strings.Contains(string(out), secret) {
		t.Fatalf("Log output leaks the credential: %s", out)
	}
}

func TestListModelsFiltersAndStripsPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[
			{"name":"models/gemini-2.0-flash","supportedGenerationMethods":["generateContent"]},
			{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]},
			{"name":"models/gemini-2.5-pro","supportedGenerationMethods":["generateContent","countTokens"]}
		]}`))
	}))
	defer srv.Close()

	names, err := NewLister(testClient(srv), "test-key-alpha").ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("Expected 2 generateContent models, got %v", names)
	}
	if names[0] != "gemini-2.0-flash" || names[1] != "gemini-2.5-pro" {
		t.Errorf("Unexpected names: %v", names)
	}
}
