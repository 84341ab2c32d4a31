package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vigil-archive/vigil/internal/errs"
)

func TestClientExtract_SendsRequestAndParsesCandidates(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody clientRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"type": "airstrike"}, {"type": "shelling"}], "language": "AR", "model": "extractor-v2"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret-key", 5*time.Second, zerolog.Nop())
	result, err := client.Extract(context.Background(), Request{
		Text:     "  قصف جوي على حي سكني  ",
		Language: "ar",
		SourceID: "telegram:42",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if gotPath != "/v1/extract" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
	if gotBody.Text != "قصف جوي على حي سكني" {
		t.Fatalf("text must be trimmed: %q", gotBody.Text)
	}
	if gotBody.Language != "ar" || gotBody.SourceID != "telegram:42" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("unexpected candidate count: got %d want 2", len(result.Candidates))
	}
	if result.Language != "ar" || result.ModelName != "extractor-v2" {
		t.Fatalf("unexpected result metadata: %+v", result)
	}
}

func TestClientExtract_UpstreamFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "model overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, zerolog.Nop())
	_, err := client.Extract(context.Background(), Request{Text: "some report text"})
	if !errs.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("error must carry the upstream message: %v", err)
	}
}

func TestClientExtract_RequiresConfiguration(t *testing.T) {
	t.Parallel()

	client := NewClient("", "", 0, zerolog.Nop())
	_, err := client.Extract(context.Background(), Request{Text: "some report text"})
	if !errs.IsUpstream(err) {
		t.Fatalf("expected upstream error for missing endpoint, got %v", err)
	}
}

func TestClientExtract_RequiresText(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:1", "", time.Second, zerolog.Nop())
	_, err := client.Extract(context.Background(), Request{Text: "   "})
	if !errs.IsUpstream(err) {
		t.Fatalf("expected upstream error for blank text, got %v", err)
	}
}

func TestResolveLanguage(t *testing.T) {
	t.Parallel()

	if lang := ResolveLanguage(Request{Language: "AR"}); lang != "ar" {
		t.Fatalf("explicit language wins: got %q", lang)
	}
	if lang := ResolveLanguage(Request{Text: "this is clearly an english sentence about events"}); lang != "en" {
		t.Fatalf("detected language expected: got %q", lang)
	}
	if lang := ResolveLanguage(Request{Text: "%%%"}); lang != "und" {
		t.Fatalf("undetectable text falls back to und: got %q", lang)
	}
}
