package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoSendsHeadersAndBody(t *testing.T) {
	var gotUser, gotKey, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
		gotKey = r.Header.Get("X-Custom")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.Header().Set("X-Trace-Id", "trace-1")
		_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"submission_id":"s-1"}}`))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, func() string { return "alice" })
	resp, err := client.Do(context.Background(), http.MethodPost, "/api/v1/judge/submissions", map[string]string{"X-Custom": "v", "X-Empty": ""}, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("do failed: %v", err)
	}
	if gotUser != "alice" || gotKey != "v" || gotBody != `{"a":1}` || gotPath != "/api/v1/judge/submissions" {
		t.Fatalf("unexpected request user=%q key=%q body=%q path=%q", gotUser, gotKey, gotBody, gotPath)
	}
	if resp.StatusCode != http.StatusOK || resp.TraceID() != "trace-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	env, err := resp.Decode()
	if err != nil || env.Code != 10000 || string(env.Data) != `{"submission_id":"s-1"}` {
		t.Fatalf("unexpected envelope %+v err=%v", env, err)
	}
}

func TestDoReportsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := New(url, 200*time.Millisecond, nil)
	if _, err := client.Do(context.Background(), http.MethodGet, "/", nil, nil); err == nil {
		t.Fatalf("expected error for closed server")
	}
}
