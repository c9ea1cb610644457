package reference

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"reelswap/internal/services"
)

// Kind classifies a mention.
type Kind string

const (
	KindPerson       Kind = "person"
	KindOrganisation Kind = "organisation"
	KindContent      Kind = "content"
	KindEvent        Kind = "event"
)

// Content subtypes.
const (
	ContentBook    = "book"
	ContentArticle = "article"
	ContentVideo   = "video"
	ContentItem    = "item"
	ContentOther   = "other"
)

// Mention is something the transcript refers to, before any search.
type Mention struct {
	Kind        Kind
	ContentType string
	Description string
}

// Reference is a searched mention.
type Reference struct {
	Kind        Kind
	ContentType string
	Description string
	Title       string
	ImageURL    string
	SourceURL   string
}

// HasImage reports whether the reference carries a usable image URL.
func (r Reference) HasImage() bool {
	return r.ImageURL != ""
}

type mentions struct {
	Organisations []string `json:"organisations"`
	People        []string `json:"people"`
	Content       []struct {
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"content"`
	Events []string `json:"events"`
}

type searchAnswer struct {
	WebURL   string `json:"web_url"`
	ImageURL string `json:"image_url"`
	Title    string `json:"title"`
	Headline string `json:"headline"`
	Name     string `json:"name"`
}

// Extract returns the transcript's mentions in priority order: content, then
// people, organisations and events. Blank and duplicate entries are dropped.
func (c *Client) Extract(ctx context.Context, transcript string) ([]Mention, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, nil
	}
	var parsed mentions
	if _, err := c.ask(ctx, "extract", fmt.Sprintf(extractPrompt, transcript), mentionsSchema, nil, &parsed); err != nil {
		return nil, err
	}

	var out []Mention
	seen := make(map[string]struct{})
	add := func(m Mention) {
		m.Description = strings.TrimSpace(m.Description)
		if m.Description == "" {
			return
		}
		key := string(m.Kind) + "\x00" + strings.ToLower(m.Description)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	for _, item := range parsed.Content {
		add(Mention{Kind: KindContent, ContentType: normalizeContentType(item.Type), Description: item.Description})
	}
	for _, name := range parsed.People {
		add(Mention{Kind: KindPerson, Description: name})
	}
	for _, name := range parsed.Organisations {
		add(Mention{Kind: KindOrganisation, Description: name})
	}
	for _, name := range parsed.Events {
		add(Mention{Kind: KindEvent, Description: name})
	}
	return out, nil
}

// Search looks up one mention. The image URL is cleared when it is not an
// absolute http(s) URL. Person searches prefer the first image the search
// engine attached to the response over the model's own answer.
func (c *Client) Search(ctx context.Context, m Mention) (Reference, error) {
	plan := planFor(m)
	var answer searchAnswer
	resp, err := c.ask(ctx, "search "+string(m.Kind), plan.prompt, searchSchema, plan.domains, &answer)
	if err != nil {
		return Reference{}, err
	}
	ref := Reference{
		Kind:        m.Kind,
		ContentType: m.ContentType,
		Description: m.Description,
		Title:       firstNonEmpty(answer.Title, answer.Headline, answer.Name),
		SourceURL:   validURL(answer.WebURL),
		ImageURL:    validURL(answer.ImageURL),
	}
	if m.Kind == KindPerson {
		for _, image := range resp.Images {
			if candidate := validURL(image.ImageURL); candidate != "" {
				ref.ImageURL = candidate
				break
			}
		}
	}
	return ref, nil
}

// FindReferences extracts mentions and searches each one, returning them in
// priority order. Mentions whose search fails are skipped; if every search
// fails the last error is returned.
func (c *Client) FindReferences(ctx context.Context, transcript string) ([]Reference, error) {
	found, err := c.Extract(ctx, transcript)
	if err != nil {
		return nil, err
	}
	var (
		refs    []Reference
		lastErr error
	)
	for _, m := range found {
		ref, err := c.Search(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return refs, nil
}

// First returns the highest priority reference that has an image, searching
// lazily. It returns nil without error when the transcript mentions nothing
// usable, and an error only when extraction fails or every search failed.
func (c *Client) First(ctx context.Context, transcript string) (*Reference, error) {
	found, err := c.Extract(ctx, transcript)
	if err != nil {
		return nil, err
	}
	var (
		searched int
		errs     []error
	)
	for _, m := range found {
		ref, err := c.Search(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s %q: %w", m.Kind, m.Description, err))
			continue
		}
		searched++
		if ref.HasImage() {
			return &ref, nil
		}
	}
	if searched == 0 && len(errs) > 0 {
		return nil, services.Wrap(services.ErrExternalTool, component, "first", "every search failed", errors.Join(errs...))
	}
	return nil, nil
}

func normalizeContentType(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ContentBook:
		return ContentBook
	case ContentArticle:
		return ContentArticle
	case ContentVideo:
		return ContentVideo
	case ContentItem:
		return ContentItem
	default:
		return ContentOther
	}
}

func validURL(raw string) string {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
