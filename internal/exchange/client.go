package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/rate"
)

const maxResponseBody = 1 << 20

type call struct {
	name    string
	method  string
	url     string
	body    any
	cookies account.Cookies
	bearer  string
}

type reply struct {
	endpoint string
	status   int
	header   http.Header
	body     []byte
	cookies  account.Cookies
}

func (r *reply) ok() bool { return r.status >= 200 && r.status < 300 }

// do issues one provider call. It refuses to call an endpoint that is backing
// off, and converts rate-limit and block signals into errors.
func (x *Exchanger) do(ctx context.Context, c call) (_ *reply, err error) {
	endpoint := rate.Endpoint(c.url)
	ctx, span := x.tracer.Start(ctx, "exchange."+c.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.endpoint", endpoint),
			attribute.String("http.request.method", c.method),
		),
	)
	start := x.now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, c.name+" failed")
		}
		span.End()
		if x.onCall != nil {
			x.onCall(c.name, x.now().Sub(start), err)
		}
	}()

	if err := x.limiter.Check(endpoint); err != nil {
		return nil, err
	}

	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("%w: encode %s: %v", ErrTransport, c.name, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", ErrTransport, c.name, err)
	}
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := x.cfg.Endpoints.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if h := c.cookies.Header(); h != "" {
		req.Header.Set("Cookie", h)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, c.name, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch v := x.limiter.Record(endpoint, resp); v.Signal {
	case rate.SignalRateLimited:
		return nil, &rate.LimitedError{Endpoint: endpoint, RetryAt: v.RetryAt}
	case rate.SignalBlocked:
		return nil, fmt.Errorf("%w: %s", ErrProviderBlocked, endpoint)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrTransport, c.name, err)
	}

	r := &reply{
		endpoint: endpoint,
		status:   resp.StatusCode,
		header:   resp.Header,
		body:     raw,
	}
	if set := resp.Cookies(); len(set) > 0 {
		r.cookies = make(account.Cookies, len(set))
		for _, ck := range set {
			r.cookies[ck.Name] = ck.Value
		}
	}
	return r, nil
}

// rateLimitCode records a JSON rate-limit error code and returns the matching
// error, or nil when code is not a rate-limit code.
func (x *Exchanger) rateLimitCode(r *reply, code string) error {
	v := x.limiter.RecordCode(r.endpoint, r.header, code)
	if v.Signal != rate.SignalRateLimited {
		return nil
	}
	return &rate.LimitedError{Endpoint: r.endpoint, RetryAt: v.RetryAt}
}

// getJSON runs a bearer-authenticated call and decodes a 2xx JSON body into out.
func (x *Exchanger) getJSON(ctx context.Context, c call, out any) error {
	r, err := x.do(ctx, c)
	if err != nil {
		return err
	}
	if !r.ok() {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(r.body, &e) == nil && e.Error != "" {
			if err := x.rateLimitCode(r, e.Error); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s status %d: %s", ErrTransport, c.name, r.status, e.Error)
		}
		return fmt.Errorf("%w: %s status %d", ErrTransport, c.name, r.status)
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, c.name, err)
	}
	return nil
}

func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

func withoutRedirects(c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	cp := *c
	cp.CheckRedirect = noRedirect
	return &cp
}

