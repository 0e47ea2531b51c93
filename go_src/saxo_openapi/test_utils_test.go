package saxo_openapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func stringPtr(s string) *string { return &s }
func intPtr(i int) *int          { return &i }

// setupTestClient starts a server with handler and returns a client pointed at it.
func setupTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(StaticToken("test-token"), EnvironmentSimulation, 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.SetAPIBaseURL(server.URL)
	client.rateLimiter.sleep = func(time.Duration) {}
	return client, server
}
