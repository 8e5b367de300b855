package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okra-platform/egress/internal/hostapi"
)

// FetchRequest describes one outbound request made on behalf of a component
type FetchRequest struct {
	Method  string
	URL     string
	Headers []string // "Name: value"
	Body    string
}

// Fetch performs a request through the component's okra.net fetch, so the
// allow-list, blocked networks and TLS identities all apply. Denied
// destinations are reported as ErrDenied.
func (c *Controller) Fetch(ctx context.Context, componentID string, req FetchRequest) error {
	cfg, _, err := c.loadConfig()
	if err != nil {
		return err
	}
	host, err := c.prepareComponent(ctx, cfg, componentID)
	if err != nil {
		return err
	}
	defer host.Close()

	headers := make(map[string]string, len(req.Headers))
	for _, h := range req.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	params := map[string]any{
		"method":  method,
		"url":     req.URL,
		"headers": headers,
	}
	if req.Body != "" {
		params["body"] = []byte(req.Body)
	}

	data, err := host.call(ctx, hostapi.NetAPIName, "fetch", params)
	if err != nil {
		if isDenial(err) {
			return fmt.Errorf("%w: %s", ErrDenied, err)
		}
		return err
	}

	var result struct {
		Status int    `json:"status"`
		Body   []byte `json:"body"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("invalid fetch result: %w", err)
	}
	c.Out.Printf("%d %s\n", result.Status, http.StatusText(result.Status))
	if len(result.Body) > 0 {
		c.Out.Println(string(result.Body))
	}
	return nil
}
