package httpx

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func httpClientRT(rt http.RoundTripper) *http.Client {
	return &http.Client{Transport: rt, Timeout: 2 * time.Second}
}

func okResponse(r *http.Request, body string) *http.Response {
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header), Request: r}
}

func TestGetBody_Retry500Then200(t *testing.T) {
	var calls int
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return &http.Response{StatusCode: 500, Body: io.NopCloser(strings.NewReader("err")), Header: make(http.Header), Request: r}, nil
		}
		return okResponse(r, "<html>36,50</html>"), nil
	}))
	c := &Client{HTTP: rt}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body, err := c.GetBody(ctx, "http://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "<html>36,50</html>" {
		t.Fatalf("unexpected body %q", body)
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 calls, got %d", calls)
	}
}

func TestGetBody_NoRetryOn400(t *testing.T) {
	var calls int
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 400, Body: io.NopCloser(strings.NewReader("bad")), Header: make(http.Header), Request: r}, nil
	}))
	c := &Client{HTTP: rt}
	if _, err := c.GetBody(context.Background(), "http://example.com"); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

type tempTimeoutErr struct{}

func (tempTimeoutErr) Error() string   { return "timeout" }
func (tempTimeoutErr) Timeout() bool   { return true }
func (tempTimeoutErr) Temporary() bool { return true }

func TestGetBody_RetryNetTimeoutThen200(t *testing.T) {
	var calls int
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			var ne net.Error = tempTimeoutErr{}
			return nil, ne
		}
		return okResponse(r, "ok"), nil
	}))
	c := &Client{HTTP: rt}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.GetBody(ctx, "http://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetBody_SetsUserAgent(t *testing.T) {
	var ua string
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		ua = r.Header.Get("User-Agent")
		return okResponse(r, "ok"), nil
	}))
	c := &Client{HTTP: rt, UserAgent: "Mozilla/5.0"}
	if _, err := c.GetBody(context.Background(), "http://example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua != "Mozilla/5.0" {
		t.Fatalf("user agent not set, got %q", ua)
	}
}

func TestPostJSON_BodyRebuiltOnRetry(t *testing.T) {
	var calls int
	var lastBody string
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		if calls == 1 {
			return &http.Response{StatusCode: 502, Body: io.NopCloser(strings.NewReader("bad gateway")), Header: make(http.Header), Request: r}, nil
		}
		return okResponse(r, `{"ok":true}`), nil
	}))
	c := &Client{HTTP: rt}
	var out struct {
		OK bool `json:"ok"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.PostJSON(ctx, "http://example.com", map[string]string{"asset": "USDT"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok=true")
	}
	if calls < 2 {
		t.Fatalf("expected at least 2 calls, got %d", calls)
	}
	if lastBody != `{"asset":"USDT"}` {
		t.Fatalf("retried request body %q", lastBody)
	}
}

func TestPostJSON_DecodeError_NoRetry(t *testing.T) {
	var calls int
	rt := httpClientRT(rtFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return okResponse(r, "{x"), nil
	}))
	c := &Client{HTTP: rt}
	var out map[string]any
	if err := c.PostJSON(context.Background(), "http://example.com", nil, &out); err == nil {
		t.Fatalf("expected decode error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
