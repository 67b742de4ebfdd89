// Package gateway is the single choke point for calls to the AuthForge API.
// It attaches the bearer token, encodes request bodies and turns every failure
// into one human readable *Error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// APIPrefix is joined between the base URL and every endpoint.
const APIPrefix = "/api"

// Request describes one call. Zero values mean GET, no body, no extra headers.
type Request struct {
	Method  string
	Body    any
	Headers map[string]string
}

// Gateway sends authenticated requests to the remote service.
type Gateway struct {
	baseURL string
	tokens  oauth2.TokenSource
	client  *http.Client
	logger  zerolog.Logger
	metrics *metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a gateway for the service at baseURL (scheme and host, e.g.
// "http://localhost:8080"). tokens may be nil, in which case no request is
// authenticated.
func New(baseURL string, tokens oauth2.TokenSource, options ...Option) (*Gateway, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[gateway.New] baseURL is required")
	}
	g := &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  http.DefaultClient,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Send issues a request to endpoint (e.g. "/auth/login") and returns the
// parsed JSON body. A body that is empty or not JSON yields nil data rather
// than an error. Any non-2xx status, or a transport failure, returns *Error.
func (g *Gateway) Send(ctx context.Context, endpoint string, r Request) (json.RawMessage, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != nil {
		encoded, err := json.Marshal(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.Send] json.Marshal")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+APIPrefix+endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.Send] http.NewRequest")
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range r.Headers {
		req.Header.Set(name, value)
	}
	if token := g.token(); token != nil {
		token.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.observe(method, 0, start)
		g.logger.Debug().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("Request failed")
		return nil, &Error{Kind: KindTransport, Message: transportMessage(err), cause: err}
	}
	defer resp.Body.Close()

	data := parseBody(resp.Body)
	g.observe(method, resp.StatusCode, start)
	g.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(resp.StatusCode, data)
	}
	return data, nil
}

// token returns the bearer token to attach, or nil when there is none.
func (g *Gateway) token() *oauth2.Token {
	if g.tokens == nil {
		return nil
	}
	token, err := g.tokens.Token()
	if err != nil || token == nil || token.AccessToken == "" {
		return nil
	}
	return token
}

func parseBody(r io.Reader) json.RawMessage {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.RawMessage(raw)
}

func transportMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Request cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out"
	}
	return "Unable to reach the server"
}

// Decode converts data returned by Send into T. Nil data yields the zero T.
// A body of the wrong shape is an *Error of KindMalformed.
func Decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Debug().Err(err).Str("body", string(data)).Msg("Unexpected response shape")
		return out, &Error{Kind: KindMalformed, Message: UnexpectedResponseMessage, cause: err}
	}
	return out, nil
}
