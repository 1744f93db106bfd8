package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxtail/voxtail/internal/resilience"
	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

const (
	serperEndpoint = "https://google.serper.dev/search"
	maxResults     = 5
)

// searchUnavailable is spoken to the user in both languages when search is
// down, so the reply works regardless of conversation language.
const searchUnavailable = "搜索服务暂时不可用 / Search service temporarily unavailable"

var _ tool.Tool = (*SearchTool)(nil)

// SearchTool queries the Serper Google Search API. A circuit breaker keeps a
// flapping upstream from stalling every reply for its full timeout.
type SearchTool struct {
	apiKey   string
	endpoint string
	client   *http.Client
	breaker  *resilience.CircuitBreaker
}

// SearchOption is a functional option for SearchTool.
type SearchOption func(*SearchTool)

// WithSearchEndpoint overrides the Serper URL. Used in tests.
func WithSearchEndpoint(url string) SearchOption {
	return func(t *SearchTool) {
		t.endpoint = url
	}
}

// NewSearchTool creates a SearchTool. apiKey must be non-empty.
func NewSearchTool(apiKey string, opts ...SearchOption) (*SearchTool, error) {
	if apiKey == "" {
		return nil, errors.New("builtin: serper api key must not be empty")
	}
	t := &SearchTool{
		apiKey:   apiKey,
		endpoint: serperEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "serper",
			MaxFailures:  3,
			ResetTimeout: 60 * time.Second,
		}),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Definition implements tool.Tool.
func (t *SearchTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for current information. Use for questions about recent events or facts you are unsure of.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []any{"query"},
		},
	}
}

type serperResult struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	AnswerBox struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
}

// Invoke implements tool.Tool. Failures surface as a bilingual unavailability
// string rather than an error so the model can relay them verbatim.
func (t *SearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", errors.New("builtin: query must not be empty")
	}

	var result string
	err := t.breaker.Execute(func() error {
		var err error
		result, err = t.search(ctx, query)
		return err
	})
	if err != nil {
		return searchUnavailable, nil
	}
	return result, nil
}

func (t *SearchTool) search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return "", fmt.Errorf("builtin: search request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("builtin: search request: %w", err)
	}
	req.Header.Set("X-API-KEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("builtin: search fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("builtin: search returned status %d", resp.StatusCode)
	}

	var sr serperResult
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("builtin: search decode: %w", err)
	}
	return formatResults(query, sr), nil
}

// formatResults renders the answer box (when present) and the organic hits
// into a compact numbered list for the model.
func formatResults(query string, sr serperResult) string {
	var b strings.Builder
	if sr.AnswerBox.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", sr.AnswerBox.Answer)
	} else if sr.AnswerBox.Snippet != "" {
		fmt.Fprintf(&b, "Answer: %s\n", sr.AnswerBox.Snippet)
	}
	for i, hit := range sr.Organic {
		if i >= maxResults {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n", i+1, hit.Title, hit.Snippet, hit.Link)
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No results for %q", query)
	}
	return strings.TrimRight(b.String(), "\n")
}
