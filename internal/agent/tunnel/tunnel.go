package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/printwatch/printwatch-services/internal/comm"
)

const (
	maxResponseBytes = 2 << 20 // 2MB cap on tunneled responses
	requestTimeout   = 15 * time.Second
)

// allowed path prefixes on the printer host
var allowedPrefixes = []string{"/api/", "/webcam/"}

// Executor performs gateway-tunneled HTTP requests against the local
// printer host and returns the responses to be relayed back.
type Executor struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewExecutor(baseURL, apiKey string) *Executor {
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// Execute runs one tunneled request. Errors are reported in-band on the
// response so the gateway side always gets an answer for the request id.
func (e *Executor) Execute(ctx context.Context, treq *comm.TunnelRequest) *comm.TunnelResponse {
	resp := &comm.TunnelResponse{Id: treq.Id}

	cleanPath, ok := pathAllowed(treq.Path)
	if !ok {
		resp.Status = http.StatusForbidden
		resp.Error = fmt.Sprintf("path %q is not tunneled", treq.Path)
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, treq.Method, e.baseURL+cleanPath, bytes.NewReader(treq.Body))
	if err != nil {
		resp.Status = http.StatusBadGateway
		resp.Error = err.Error()
		return resp
	}
	for k, vals := range treq.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if e.apiKey != "" {
		req.Header.Set("X-Api-Key", e.apiKey)
	}

	r, err := e.http.Do(req)
	if err != nil {
		resp.Status = http.StatusBadGateway
		resp.Error = err.Error()
		return resp
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes+1))
	if err != nil {
		resp.Status = http.StatusBadGateway
		resp.Error = err.Error()
		return resp
	}
	if len(body) > maxResponseBytes {
		resp.Status = http.StatusBadGateway
		resp.Error = "tunneled response too large"
		return resp
	}

	resp.Status = r.StatusCode
	resp.Headers = r.Header
	resp.Body = body
	return resp
}

// pathAllowed normalizes the request path before matching it against the
// allowlist, so traversal segments cannot reach past an allowed prefix.
// The normalized path is what gets sent to the printer host.
func pathAllowed(p string) (string, bool) {
	rest := ""
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p, rest = p[:i], p[i:]
	}
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	if strings.Contains(p, "..") || strings.Contains(strings.ToLower(p), "%2e") {
		return "", false
	}

	clean := path.Clean(p)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}

	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(clean, prefix) {
			return clean + rest, true
		}
	}
	return "", false
}
