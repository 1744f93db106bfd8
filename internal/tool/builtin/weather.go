package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxtail/voxtail/internal/tool"
	"github.com/voxtail/voxtail/pkg/types"
)

const weatherEndpoint = "https://wttr.in"

var _ tool.Tool = (*WeatherTool)(nil)

// WeatherTool fetches current conditions from wttr.in, which needs no API
// key.
type WeatherTool struct {
	endpoint string
	client   *http.Client
}

// NewWeatherTool creates a WeatherTool. endpoint overrides the wttr.in base
// URL when non-empty (used in tests).
func NewWeatherTool(endpoint string) *WeatherTool {
	if endpoint == "" {
		endpoint = weatherEndpoint
	}
	return &WeatherTool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Definition implements tool.Tool.
func (t *WeatherTool) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather for a city, e.g. \"Beijing\" or \"San Francisco\".",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name in English or Chinese",
				},
			},
			"required": []any{"city"},
		},
	}
}

// wttrResponse holds the fields we read from the wttr.in j1 format.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

// Invoke implements tool.Tool.
func (t *WeatherTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	city, _ := args["city"].(string)
	if strings.TrimSpace(city) == "" {
		return "", errors.New("builtin: city must not be empty")
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", t.endpoint, url.PathEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("builtin: weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("builtin: weather fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("builtin: weather service returned status %d", resp.StatusCode)
	}

	var wr wttrResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", fmt.Errorf("builtin: weather decode: %w", err)
	}
	if len(wr.CurrentCondition) == 0 {
		return "", fmt.Errorf("builtin: no weather data for %q", city)
	}

	cc := wr.CurrentCondition[0]
	desc := ""
	if len(cc.WeatherDesc) > 0 {
		desc = cc.WeatherDesc[0].Value
	}
	return fmt.Sprintf("%s: %s, %s°C (feels like %s°C), humidity %s%%",
		city, desc, cc.TempC, cc.FeelsLikeC, cc.Humidity), nil
}
