package httpsync

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roleclock/roleclock/internal/application/auth"
	"github.com/roleclock/roleclock/internal/domain/peer"
)

// Transport issues signed sync exchanges over HTTP. It implements
// peer.Transport.
type Transport struct {
	client *http.Client
}

// New creates a transport. A nil client gets a 30s-timeout default.
func New(client *http.Client) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Transport{client: client}
}

func (t *Transport) Do(ctx context.Context, baseURL string, req peer.Request) (*peer.Response, error) {
	target := strings.TrimRight(baseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", req.Key)
	httpReq.Header.Set("X-Timestamp", auth.FormatTimestamp(req.Timestamp))
	httpReq.Header.Set("X-Signature", req.Signature)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	return &peer.Response{StatusCode: resp.StatusCode, Body: raw}, nil
}
