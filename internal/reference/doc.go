// Package reference finds on-screen references for a transcript.
//
// Lookup is two-phase. Extract asks the model which organisations, people,
// pieces of content and events the transcript mentions. Each mention is then
// searched with a kind-specific prompt and domain filter to obtain a source
// URL and a direct image URL. Candidates are tried in a fixed priority order:
// content, people, organisations, events.
//
// All calls go to a Perplexity-compatible chat completions endpoint and share
// one retry budget per request (408, 429, 5xx and network timeouts; a
// Retry-After header is honoured).
package reference
