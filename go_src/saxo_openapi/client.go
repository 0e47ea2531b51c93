package saxo_openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EnvironmentLive       = "live"
	EnvironmentSimulation = "sim"

	liveAPIBaseURL        = "https://gateway.saxobank.com/openapi"
	simulationAPIBaseURL  = "https://gateway.saxobank.com/sim/openapi"
	defaultTimeoutSeconds = 10
)

// Client is a minimal Saxo OpenAPI REST client: root services, instrument
// lookup and chart data.
type Client struct {
	httpClient     *http.Client
	tokens         TokenSource
	Environment    string
	apiBaseURL     string
	rateLimiter    *RateLimiter
	defaultHeaders http.Header
}

// NewClient creates a client for the given environment ("live" or "sim").
func NewClient(tokens TokenSource, environment string, clientTimeout time.Duration) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}

	var apiBase string
	switch strings.ToLower(environment) {
	case EnvironmentLive:
		environment = EnvironmentLive
		apiBase = liveAPIBaseURL
	case EnvironmentSimulation, "simdemo":
		environment = EnvironmentSimulation
		apiBase = simulationAPIBaseURL
	default:
		return nil, fmt.Errorf("invalid environment: '%s'. Must be '%s' or '%s'",
			environment, EnvironmentLive, EnvironmentSimulation)
	}

	if clientTimeout <= 0 {
		clientTimeout = time.Duration(defaultTimeoutSeconds) * time.Second
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: clientTimeout},
		tokens:         tokens,
		Environment:    environment,
		apiBaseURL:     apiBase,
		rateLimiter:    NewRateLimiter(DefaultLowRequestsThreshold),
		defaultHeaders: make(http.Header),
	}
	client.defaultHeaders.Set("Accept", "application/json")
	client.defaultHeaders.Set("Cache-Control", "no-cache")
	return client, nil
}

// SetAPIBaseURL points the client at another gateway, e.g. a local proxy or a test server.
func (c *Client) SetAPIBaseURL(baseURL string) {
	c.apiBaseURL = strings.TrimRight(baseURL, "/")
}

// APIBaseURL returns the base URL requests are sent to.
func (c *Client) APIBaseURL() string {
	return c.apiBaseURL
}

// getJSON sends a GET request and decodes the JSON body into out.
// Non-2xx responses are returned as *OpenAPIError. A 429 is retried once after
// the rate limiter has waited for the session window to reset.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	fullURL, err := url.Parse(c.apiBaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse base API URL '%s': %w", c.apiBaseURL, err)
	}
	fullURL.Path = strings.TrimRight(fullURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		fullURL.RawQuery = query.Encode()
	}
	target := fullURL.String()

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		c.rateLimiter.WaitIfNeeded()

		token, err := c.tokens.GetToken()
		if err != nil {
			return fmt.Errorf("failed to get authentication token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("failed to create HTTP request for GET %s: %w", target, err)
		}
		for key, values := range c.defaultHeaders {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)

		logrus.Debugf("Saxo API Request: GET %s", target)
		resp, err = c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("HTTP request context cancelled for GET %s: %w", target, ctx.Err())
			}
			return fmt.Errorf("HTTP request execution failed for GET %s: %w", target, err)
		}
		c.rateLimiter.UpdateLimits(resp.Header)

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			logrus.Warnf("Rate limit hit (429) for GET %s, retrying once", target)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			continue
		}
		break
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body for GET %s: %w", target, err)
	}
	if resp.StatusCode >= 400 {
		return NewOpenAPIError(resp.StatusCode, resp.Status, string(body))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response JSON (status %d) for GET %s: %w", resp.StatusCode, target, err)
	}
	return nil
}

// encodeQuery converts a struct with `url` tags to url.Values.
// Nil pointers and, with omitempty, zero values are skipped. Times are sent as RFC3339 UTC.
func encodeQuery(params interface{}) (url.Values, error) {
	values := url.Values{}
	if params == nil {
		return values, nil
	}

	v := reflect.ValueOf(params)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return values, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("encodeQuery: expected a struct or pointer to struct, got %T", params)
	}

	typ := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("url")
		if tag == "" || tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		omitEmpty := opts == "omitempty"

		field := v.Field(i)
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				continue
			}
			field = field.Elem()
		}
		if omitEmpty && field.IsZero() {
			continue
		}

		var s string
		if t, ok := field.Interface().(time.Time); ok {
			s = t.UTC().Format(time.RFC3339)
		} else {
			switch field.Kind() {
			case reflect.String:
				s = field.String()
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				s = strconv.FormatInt(field.Int(), 10)
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				s = strconv.FormatUint(field.Uint(), 10)
			case reflect.Float32, reflect.Float64:
				s = strconv.FormatFloat(field.Float(), 'f', -1, 64)
			case reflect.Bool:
				s = strconv.FormatBool(field.Bool())
			case reflect.Slice:
				if field.Type().Elem().Kind() != reflect.String {
					continue
				}
				parts := make([]string, field.Len())
				for j := range parts {
					parts[j] = field.Index(j).String()
				}
				s = strings.Join(parts, ",")
			default:
				continue
			}
		}
		values.Set(name, s)
	}
	return values, nil
}
