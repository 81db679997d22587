package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fentz26/taskhive/internal/client"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

func newAPIClient() *client.Client {
	return client.New(apiAddr, client.WithHTTPClient(&http.Client{Timeout: DefaultClientTimeout}))
}

// commandContext bounds a single CLI request.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultClientTimeout)
}

// isMasterRunning reports whether the master at addr answers /health.
func isMasterRunning(addr string) bool {
	c := client.New(addr, client.WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}))
	_, err := c.CheckHealth(context.Background())
	return err == nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
