package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fasalrakshak/fasalrakshak/internal/config"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/fasalrakshak/fasalrakshak/internal/metrics"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// MissingWeatherKey is returned verbatim when no API key is configured.
const MissingWeatherKey = "Error: OpenWeatherMap API key not found."

// ErrCityNotFound is returned when the provider does not know the city.
var ErrCityNotFound = errors.New("city not found")

// MissingFieldError reports a response without a field the summary needs.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "weather provider response is missing " + e.Field
}

// Conditions are the current conditions for a city. Temperatures are the
// provider's numeric literals, in degrees Celsius.
type Conditions struct {
	City        string `json:"city"`
	Temp        string `json:"temp"`
	FeelsLike   string `json:"feels_like"`
	Description string `json:"description"`
}

// Summary is the one-line text handed to the model.
func (c Conditions) Summary() string {
	return fmt.Sprintf("Current weather in %s: The temperature is %s°C (feels like %s°C) with %s.",
		c.City, c.Temp, c.FeelsLike, c.Description)
}

// Weather looks up current conditions on OpenWeatherMap.
type Weather struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	// initialInterval is the first retry delay; tests shorten it.
	initialInterval time.Duration
}

// NewWeather builds the tool from cfg. A missing API key is reported when
// the tool runs, not here.
func NewWeather(cfg config.WeatherConfig) *Weather {
	perMinute := cfg.RatePerMinute
	if perMinute < 1 {
		perMinute = 60
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultWeatherURL
	}
	return &Weather{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		client:          &http.Client{Timeout: cfg.Timeout},
		limiter:         rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
		maxRetries:      cfg.MaxRetries,
		initialInterval: 500 * time.Millisecond,
	}
}

// Run returns the weather summary for city or a readable error message.
func (w *Weather) Run(ctx context.Context, city string) string {
	c, err := w.Current(ctx, city)
	var missing *MissingFieldError
	switch {
	case err == nil:
		return c.Summary()
	case errors.Is(err, core.ErrMissingCredential):
		return MissingWeatherKey
	case errors.Is(err, core.ErrEmptyInput):
		return "Error: please provide a city name."
	case errors.Is(err, ErrCityNotFound):
		return fmt.Sprintf("Error: city %q was not found by the weather provider.", strings.TrimSpace(city))
	case errors.As(err, &missing):
		return "Error: " + missing.Error() + "."
	default:
		return "An error occurred while fetching weather data: " + err.Error()
	}
}

// Current fetches and parses the conditions for city.
func (w *Weather) Current(ctx context.Context, city string) (Conditions, error) {
	city = strings.TrimSpace(city)
	if w.apiKey == "" {
		return Conditions{}, fmt.Errorf("%w: OpenWeatherMap API key", core.ErrMissingCredential)
	}
	if city == "" {
		return Conditions{}, fmt.Errorf("%w: city", core.ErrEmptyInput)
	}

	body, err := w.fetch(ctx, city)
	if err != nil {
		return Conditions{}, err
	}

	doc := gjson.ParseBytes(body)
	temp, err := number(doc, "main.temp")
	if err != nil {
		return Conditions{}, err
	}
	feels, err := number(doc, "main.feels_like")
	if err != nil {
		return Conditions{}, err
	}
	desc := doc.Get("weather.0.description")
	if desc.Type != gjson.String || desc.String() == "" {
		return Conditions{}, &MissingFieldError{Field: "weather.0.description"}
	}

	return Conditions{
		City:        cases.Title(language.Und).String(city),
		Temp:        temp,
		FeelsLike:   feels,
		Description: desc.String(),
	}, nil
}

func number(doc gjson.Result, path string) (string, error) {
	v := doc.Get(path)
	if v.Type != gjson.Number {
		return "", &MissingFieldError{Field: path}
	}
	return v.Raw, nil
}

// fetch GETs the provider with retries on transport errors, 429 and 5xx.
func (w *Weather) fetch(ctx context.Context, city string) ([]byte, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	endpoint := w.baseURL + "?" + q.Encode()

	op := func() ([]byte, error) {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			metrics.WeatherRequests.WithLabelValues("error").Inc()
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			// The key is in the URL; report the failure without it.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				err = uerr.Err
			}
			return nil, fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()
		metrics.WeatherRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", core.ErrProviderUnavailable, err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, backoff.Permanent(ErrCityNotFound)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: %s", core.ErrProviderUnavailable, resp.Status)
		default:
			msg := gjson.GetBytes(body, "message").String()
			if msg == "" {
				msg = resp.Status
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", core.ErrProviderUnavailable, msg))
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(backoff.WithInitialInterval(w.initialInterval)),
			config.Retries(w.maxRetries),
		),
		ctx,
	)
	return backoff.RetryNotifyWithData(op, policy, func(err error, next time.Duration) {
		logger.ToolWarn("Weather lookup for %q failed, retrying in %s: %v", city, next, err)
	})
}
