package reference_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reelswap/internal/config"
	"reelswap/internal/reference"
	"reelswap/internal/retry"
	"reelswap/internal/services"
)

type capturedRequest struct {
	Prompt  string
	Domains []string
	Format  string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []capturedRequest
	answer   func(prompt string) (status int, body string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		SearchDomainFilter []string `json:"search_domain_filter"`
		ResponseFormat     struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Messages) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	prompt := payload.Messages[0].Content
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Prompt: prompt, Domains: payload.SearchDomainFilter, Format: payload.ResponseFormat.Type})
	f.mu.Unlock()

	status, body := f.answer(prompt)
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
		return
	}
	_, _ = w.Write([]byte(body))
}

func completion(content string, images ...string) string {
	resp := map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}, "finish_reason": "stop"}},
	}
	if len(images) > 0 {
		var list []map[string]string
		for _, img := range images {
			list = append(list, map[string]string{"image_url": img})
		}
		resp["images"] = list
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newClient(t *testing.T, api *fakeAPI, delays *[]time.Duration) *reference.Client {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	client, err := reference.New(config.Reference{APIKey: "pplx", BaseURL: server.URL},
		reference.WithHTTPClient(server.Client()),
		reference.WithRetryBudget(retry.Budget{Attempts: 2, Initial: time.Millisecond, Max: 5 * time.Second}),
		reference.WithRetryOptions(retry.WithSleeper(func(_ context.Context, d time.Duration) error {
			if delays != nil {
				*delays = append(*delays, d)
			}
			return nil
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

const extracted = "```json\n" + `{"organisations":["Tesla"],"people":["Elon Musk","elon musk"],"content":[{"description":"The Wisdom of Insecurity","type":"Book"}],"events":[]}` + "\n```"

func TestExtractOrdersByPriority(t *testing.T) {
	api := &fakeAPI{answer: func(string) (int, string) { return http.StatusOK, completion(extracted) }}
	client := newClient(t, api, nil)

	mentions, err := client.Extract(context.Background(), "Elon Musk of Tesla read The Wisdom of Insecurity")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []reference.Mention{
		{Kind: reference.KindContent, ContentType: reference.ContentBook, Description: "The Wisdom of Insecurity"},
		{Kind: reference.KindPerson, Description: "Elon Musk"},
		{Kind: reference.KindOrganisation, Description: "Tesla"},
	}
	if len(mentions) != len(want) {
		t.Fatalf("mentions = %+v", mentions)
	}
	for i := range want {
		if mentions[i] != want[i] {
			t.Fatalf("mention %d = %+v, want %+v", i, mentions[i], want[i])
		}
	}
	if api.requests[0].Format != "json_schema" {
		t.Fatalf("expected json_schema response format, got %q", api.requests[0].Format)
	}
}

func TestFirstFallsThroughToNextCandidate(t *testing.T) {
	api := &fakeAPI{answer: func(prompt string) (int, string) {
		switch {
		case strings.HasPrefix(prompt, "Read through"):
			return http.StatusOK, completion(extracted)
		case strings.Contains(prompt, "cover of the book"):
			return http.StatusOK, completion(`{"web_url":"https://openlibrary.org/x","image_url":"not a url"}`)
		case strings.Contains(prompt, "the person"):
			return http.StatusOK, completion(`{"web_url":"https://en.wikipedia.org/wiki/Elon_Musk","image_url":"https://example.com/model.jpg"}`,
				"https://upload.wikimedia.org/musk.jpg")
		default:
			t.Errorf("unexpected prompt %q", prompt)
			return http.StatusBadRequest, ""
		}
	}}
	client := newClient(t, api, nil)

	ref, err := client.First(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if ref == nil || ref.Kind != reference.KindPerson {
		t.Fatalf("expected person reference, got %+v", ref)
	}
	if ref.ImageURL != "https://upload.wikimedia.org/musk.jpg" {
		t.Fatalf("person lookups should prefer attached images, got %q", ref.ImageURL)
	}
	if len(api.requests) != 3 {
		t.Fatalf("organisation should not be searched once a person matched, got %d requests", len(api.requests))
	}
	var personDomains []string
	for _, req := range api.requests {
		if strings.Contains(req.Prompt, "the person") {
			personDomains = req.Domains
		}
	}
	if len(personDomains) == 0 || personDomains[0] != "wikipedia.org" {
		t.Fatalf("person search should carry a domain filter, got %v", personDomains)
	}
}

func TestFirstReturnsNilWhenNothingMentioned(t *testing.T) {
	api := &fakeAPI{answer: func(string) (int, string) {
		return http.StatusOK, completion(`{"organisations":[],"people":[],"content":[],"events":[]}`)
	}}
	client := newClient(t, api, nil)
	ref, err := client.First(context.Background(), "just some chatter")
	if err != nil || ref != nil {
		t.Fatalf("First = %+v, %v", ref, err)
	}
	if ref, err := client.First(context.Background(), "   "); err != nil || ref != nil {
		t.Fatalf("blank transcript should not call the API, got %+v, %v", ref, err)
	}
	if len(api.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(api.requests))
	}
}

func TestRetriesHonourRetryAfter(t *testing.T) {
	calls := 0
	api := &fakeAPI{answer: func(string) (int, string) {
		calls++
		if calls == 1 {
			return http.StatusTooManyRequests, ""
		}
		return http.StatusOK, completion(`{"organisations":[],"people":[],"content":[],"events":["Moon landing"]}`)
	}}
	var delays []time.Duration
	client := newClient(t, api, &delays)
	mentions, err := client.Extract(context.Background(), "they landed on the moon")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(mentions) != 1 || mentions[0].Kind != reference.KindEvent {
		t.Fatalf("mentions = %+v", mentions)
	}
	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Fatalf("expected one Retry-After delay of 2s, got %v", delays)
	}
}

func TestExtractFailsAfterBudget(t *testing.T) {
	api := &fakeAPI{answer: func(string) (int, string) { return http.StatusBadGateway, "" }}
	client := newClient(t, api, nil)
	_, err := client.First(context.Background(), "anything")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error after budget, got %v", err)
	}
	if len(api.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(api.requests))
	}
}

func TestFindReferencesSkipsFailedSearches(t *testing.T) {
	api := &fakeAPI{answer: func(prompt string) (int, string) {
		switch {
		case strings.HasPrefix(prompt, "Read through"):
			return http.StatusOK, completion(`{"organisations":["Acme"],"people":[],"content":[],"events":["Expo 2020"]}`)
		case strings.Contains(prompt, "organisation"):
			return http.StatusBadRequest, ""
		default:
			return http.StatusOK, completion(`{"web_url":"https://en.wikipedia.org/wiki/Expo_2020","image_url":"https://upload.wikimedia.org/expo.png"}`)
		}
	}}
	client := newClient(t, api, nil)
	refs, err := client.FindReferences(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("FindReferences: %v", err)
	}
	if len(refs) != 1 || refs[0].Kind != reference.KindEvent || !refs[0].HasImage() {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := reference.DecodeJSON("Sure! Here you go: {\"ok\": true} hope it helps", &out); err != nil || !out.OK {
		t.Fatalf("DecodeJSON = %v, %+v", err, out)
	}
	if err := reference.DecodeJSON("", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := reference.New(config.Reference{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
