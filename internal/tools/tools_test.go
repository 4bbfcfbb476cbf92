package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fasalrakshak/fasalrakshak/internal/auth"
	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	chunks []core.Chunk
	err    error
	gotK   int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]core.Chunk, error) {
	f.gotK = k
	return f.chunks, f.err
}

func TestAdviceRun(t *testing.T) {
	tests := []struct {
		name  string
		r     *fakeRetriever
		query string
		want  string
	}{
		{
			name:  "joins chunks in rank order",
			r:     &fakeRetriever{chunks: []core.Chunk{{Text: "Use neem oil."}, {Text: "Rotate crops."}}},
			query: "pests",
			want:  "Use neem oil.\n\n---\n\nRotate crops.",
		},
		{
			name:  "no chunks",
			r:     &fakeRetriever{},
			query: "pests",
			want:  NoAdviceFound,
		},
		{
			name:  "knowledge base unavailable",
			r:     &fakeRetriever{err: fmt.Errorf("%w: index is not open", core.ErrRetrieverUnavailable)},
			query: "pests",
			want:  NoAdviceFound,
		},
		{
			name:  "other failure",
			r:     &fakeRetriever{err: errors.New("embedding timed out")},
			query: "pests",
			want:  "Error: could not search the knowledge base: embedding timed out",
		},
		{
			name:  "empty question",
			r:     &fakeRetriever{},
			query: "  ",
			want:  "Error: please provide a question to search the knowledge base.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAdvice(tt.r, 3).Run(context.Background(), tt.query)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}

func newTestWeather(url, key string) *Weather {
	w := NewWeather(config.WeatherConfig{
		APIKey:        key,
		BaseURL:       url,
		Timeout:       2 * time.Second,
		MaxRetries:    2,
		RatePerMinute: 6000,
	})
	w.initialInterval = time.Millisecond
	return w
}

func TestWeatherMissingKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	got := newTestWeather(srv.URL, "").Run(context.Background(), "Jodhpur")
	assert.Equal(t, "Error: OpenWeatherMap API key not found.", got)
	assert.Zero(t, calls.Load())

	_, err := newTestWeather(srv.URL, "").Current(context.Background(), "Jodhpur")
	assert.ErrorIs(t, err, core.ErrMissingCredential)
}

func TestWeatherRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jodhpur", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"weather":[{"main":"Clear","description":"clear sky"}],"main":{"temp":38.46,"feels_like":36,"humidity":12},"name":"Jodhpur"}`))
	}))
	defer srv.Close()

	got := newTestWeather(srv.URL, "secret").Run(context.Background(), " jodhpur ")
	assert.Equal(t, "Current weather in Jodhpur: The temperature is 38.46°C (feels like 36°C) with clear sky.", got)
}

func TestWeatherFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		city      string
		want      string
		wantCalls int32
	}{
		{"unknown city", http.StatusNotFound, `{"cod":"404","message":"city not found"}`, "Atlantis", `Error: city "Atlantis" was not found by the weather provider.`, 1},
		{"malformed body", http.StatusOK, `<html>oops`, "Jodhpur", "Error: weather provider response is missing main.temp.", 1},
		{"missing feels like", http.StatusOK, `{"main":{"temp":30},"weather":[{"description":"haze"}]}`, "Jodhpur", "Error: weather provider response is missing main.feels_like.", 1},
		{"missing description", http.StatusOK, `{"main":{"temp":30,"feels_like":31},"weather":[]}`, "Jodhpur", "Error: weather provider response is missing weather.0.description.", 1},
		{"bad key", http.StatusUnauthorized, `{"cod":401,"message":"Invalid API key."}`, "Jodhpur", "An error occurred while fetching weather data: provider unavailable: Invalid API key.", 1},
		{"server error is retried", http.StatusBadGateway, `bad gateway`, "Jodhpur", "An error occurred while fetching weather data: provider unavailable: 502 Bad Gateway", 3},
		{"empty city", http.StatusOK, `{}`, "  ", "Error: please provide a city name.", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var got string
			require.NotPanics(t, func() {
				got = newTestWeather(srv.URL, "secret").Run(context.Background(), tt.city)
			})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestWeatherRetriesDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := newTestWeather(srv.URL, "secret")
	w.maxRetries = config.NoRetries
	_, err := w.Current(context.Background(), "Jodhpur")
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestWeatherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w := newTestWeather(url, "secret")
	_, err := w.Current(context.Background(), "Jodhpur")
	assert.ErrorIs(t, err, core.ErrProviderUnavailable)
	assert.NotContains(t, err.Error(), "secret")

	got := w.Run(context.Background(), "Jodhpur")
	assert.Contains(t, got, "An error occurred while fetching weather data: ")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 100))

	// 99 ASCII bytes put the 100-byte mark inside the first Devanagari rune.
	long := strings.Repeat("a", 99) + strings.Repeat("सरसों में माहू का नियंत्रण ", 10)
	got := clip(long, 100)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, 100, utf8.RuneCountInString(strings.TrimSuffix(got, "...")))
}

type echoTool struct{ got string }

func (e *echoTool) Run(_ context.Context, input string) string {
	e.got = input
	return "ran with " + input
}

func TestRouterExecute(t *testing.T) {
	weather, advice := &echoTool{}, &echoTool{}
	r := NewRouter(auth.NewPolicyService("1", "1,2"), weather, advice)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID int64
		tool   string
		args   string
		want   string
	}{
		{"json object", 2, WeatherToolName, `{"city": "Jodhpur"}`, "ran with Jodhpur"},
		{"generic input key", 2, AdviceToolName, `{"input": "bajra sowing"}`, "ran with bajra sowing"},
		{"single other key", 2, AdviceToolName, `{"question": "drip irrigation"}`, "ran with drip irrigation"},
		{"json string", 2, WeatherToolName, `"Bikaner"`, "ran with Bikaner"},
		{"plain text", 2, AdviceToolName, `neem oil for aphids`, "ran with neem oil for aphids"},
		{"unknown tool", 2, "store_document", `{}`, `Error: unknown tool "store_document".`},
		{"denied user", 3, WeatherToolName, `{"city": "Jodhpur"}`, "Error: you are not allowed to use WeatherForecast."},
		{"wrong type", 2, WeatherToolName, `{"city": 42}`, "Error: could not read the arguments for WeatherForecast: city must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Execute(ctx, tt.userID, tt.tool, tt.args))
		})
	}
}

func TestSpecsFor(t *testing.T) {
	specs := Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "WeatherForecast", specs[0].Name)
	assert.Equal(t, "city", specs[0].Param.Name)
	assert.Equal(t, "AgriculturalKnowledgeBase", specs[1].Name)

	assert.Len(t, SpecsFor(nil, 5), 2)
	assert.Empty(t, SpecsFor(auth.NewPolicyService("", "1"), 5))
}
