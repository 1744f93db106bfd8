package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ─── get_time ────────────────────────────────────────────────────────────────

func TestTimeTool(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	tt := &TimeTool{Now: func() time.Time { return fixed }}

	tests := []struct {
		name    string
		args    map[string]any
		want    string
		wantErr bool
	}{
		{"utc zone", map[string]any{"timezone": "UTC"}, "2026-03-14 15:09:26 Saturday", false},
		{"shanghai zone", map[string]any{"timezone": "Asia/Shanghai"}, "2026-03-14 23:09:26 Saturday", false},
		{"bad zone", map[string]any{"timezone": "Mars/Olympus"}, "", true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.Invoke(context.Background(), tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Invoke() err = %v, wantErr = %v", err, tc.wantErr)
			}
			if !tc.wantErr && !strings.HasPrefix(got, tc.want) {
				t.Errorf("Invoke() = %q, want prefix %q", got, tc.want)
			}
		})
	}
}

// ─── calculate ───────────────────────────────────────────────────────────────

func TestCalculateTool(t *testing.T) {
	t.Parallel()
	ct := &CalculateTool{}

	tests := []struct {
		expr    string
		want    string
		wantErr bool
	}{
		{"1 + 2", "3", false},
		{"(3 + 4) * 2.5", "17.5", false},
		{"10 / 4", "2.5", false},
		{"10 % 3", "1", false},
		{"-5 + 3", "-2", false},
		{"2 * (3 + (4 - 1))", "12", false},
		{"--4", "4", false},
		{"2 ** 10", "1024", false},
		{"2 ^ 10", "1024", false},
		{"2 ** 3 ** 2", "512", false},  // right-associative
		{"-2 ** 2", "-4", false},       // power binds tighter than unary minus
		{"3 * 2 ** 2", "12", false},    // and tighter than multiplication
		{"(1 + 1) ** 0.5 * 2", "2.828427125", false},
		{"2 **", "", true},
		{"1 / 0", "", true},
		{"5 %", "", true},
		{"(1 + 2", "", true},
		{"abc", "", true},
		{"", "", true},
		{"1 + 2 extra", "", true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.expr, func(t *testing.T) {
			t.Parallel()
			got, err := ct.Invoke(context.Background(), map[string]any{"expression": tc.expr})
			if (err != nil) != tc.wantErr {
				t.Fatalf("Invoke(%q) err = %v, wantErr = %v", tc.expr, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Invoke(%q) = %q, want %q", tc.expr, got, tc.want)
			}
		})
	}
}

// ─── get_weather ─────────────────────────────────────────────────────────────

func TestWeatherTool(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "Beijing") {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"current_condition": []map[string]any{{
				"temp_C":      "22",
				"FeelsLikeC":  "24",
				"humidity":    "40",
				"weatherDesc": []map[string]string{{"value": "Sunny"}},
			}},
		})
	}))
	defer srv.Close()

	wt := NewWeatherTool(srv.URL)

	got, err := wt.Invoke(context.Background(), map[string]any{"city": "Beijing"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for _, want := range []string{"Beijing", "Sunny", "22°C", "humidity 40%"} {
		if !strings.Contains(got, want) {
			t.Errorf("result %q missing %q", got, want)
		}
	}

	if _, err := wt.Invoke(context.Background(), map[string]any{"city": "Atlantis"}); err == nil {
		t.Error("expected error for unknown city")
	}
	if _, err := wt.Invoke(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing city")
	}
}

// ─── web_scraper ─────────────────────────────────────────────────────────────

const scrapeTestPage = `<!DOCTYPE html>
<html>
<head>
  <title>Go FAQ</title>
  <script>var tracking = "should never appear";</script>
  <style>body { color: red }</style>
</head>
<body>
  <nav>Home | About | Contact</nav>
  <h1>Frequently Asked Questions</h1>
  <p>Go is an open source programming language.</p>
  <a href="/doc/">Documentation</a>
  <a href="https://go.dev/blog/">The Go Blog</a>
  <a href="#top">Back to top</a>
  <footer>Copyright notice</footer>
</body>
</html>`

func TestScrapeTool(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(scrapeTestPage))
	}))
	defer srv.Close()

	st := NewScrapeTool()

	got, err := st.Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for _, want := range []string{"Title: Go FAQ", "# Frequently Asked Questions", "open source programming language"} {
		if !strings.Contains(got, want) {
			t.Errorf("result missing %q:\n%s", want, got)
		}
	}
	for _, chrome := range []string{"should never appear", "color: red", "Home | About", "Copyright notice"} {
		if strings.Contains(got, chrome) {
			t.Errorf("result leaks page chrome %q:\n%s", chrome, got)
		}
	}
	if strings.Contains(got, "Links:") {
		t.Error("links must only be listed when extract_links is set")
	}
}

func TestScrapeToolExtractLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(scrapeTestPage))
	}))
	defer srv.Close()

	st := NewScrapeTool()

	got, err := st.Invoke(context.Background(), map[string]any{"url": srv.URL, "extract_links": true})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	// Relative targets resolve against the page URL; fragments are skipped.
	if !strings.Contains(got, "Documentation: "+srv.URL+"/doc/") {
		t.Errorf("result missing resolved relative link:\n%s", got)
	}
	if !strings.Contains(got, "The Go Blog: https://go.dev/blog/") {
		t.Errorf("result missing absolute link:\n%s", got)
	}
	if strings.Contains(got, "Back to top") {
		t.Errorf("fragment-only anchor must be skipped:\n%s", got)
	}
}

func TestScrapeToolRejectsBadInput(t *testing.T) {
	t.Parallel()

	notHTML := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	t.Cleanup(notHTML.Close)
	missing := httptest.NewServer(http.HandlerFunc(http.NotFound))
	t.Cleanup(missing.Close)

	st := NewScrapeTool()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"ftp scheme", map[string]any{"url": "ftp://example.com/file"}, "only HTTP and HTTPS"},
		{"no host", map[string]any{"url": "https://"}, "only HTTP and HTTPS"},
		{"not html", map[string]any{"url": notHTML.URL}, "not an HTML page"},
		{"http error", map[string]any{"url": missing.URL}, "HTTP 404"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := st.Invoke(context.Background(), tc.args)
			if err != nil {
				t.Fatalf("Invoke should relay the failure as text: %v", err)
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("Invoke() = %q, want mention of %q", got, tc.want)
			}
		})
	}

	if _, err := st.Invoke(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing url")
	}
}

// ─── web_search ──────────────────────────────────────────────────────────────

func TestSearchTool(t *testing.T) {
	t.Parallel()

	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "Go", "link": "https://go.dev", "snippet": "The Go programming language"},
			},
		})
	}))
	defer srv.Close()

	st, err := NewSearchTool("key-123", WithSearchEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewSearchTool: %v", err)
	}

	got, err := st.Invoke(context.Background(), map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("X-API-KEY = %q, want key-123", gotKey)
	}
	if !strings.Contains(got, "The Go programming language") {
		t.Errorf("result missing snippet: %q", got)
	}
}

func TestSearchToolUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	st, err := NewSearchTool("key-123", WithSearchEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewSearchTool: %v", err)
	}

	got, err := st.Invoke(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("Invoke should not error on upstream failure: %v", err)
	}
	if got != searchUnavailable {
		t.Errorf("Invoke() = %q, want bilingual unavailable message", got)
	}
}

func TestSearchToolBreakerOpens(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st, err := NewSearchTool("key-123", WithSearchEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewSearchTool: %v", err)
	}

	// Breaker opens after 3 consecutive failures; later calls skip upstream.
	for i := 0; i < 5; i++ {
		st.Invoke(context.Background(), map[string]any{"query": "q"})
	}
	if hits != 3 {
		t.Errorf("upstream hit %d times, want 3 (breaker open)", hits)
	}
}

func TestNewSearchToolRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewSearchTool(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestFormatResultsAnswerBox(t *testing.T) {
	t.Parallel()

	out := formatResults("q", serperResult{
		AnswerBox: struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		}{Answer: "42"},
	})
	if !strings.HasPrefix(out, "Answer: 42") {
		t.Errorf("formatResults = %q, want answer box first", out)
	}

	empty := formatResults("nothing here", serperResult{})
	if !strings.Contains(empty, "No results") {
		t.Errorf("formatResults empty = %q", empty)
	}
}
