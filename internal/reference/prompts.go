package reference

import (
	"encoding/json"
	"fmt"
)

var (
	mentionsSchema = json.RawMessage(`{"type":"object","properties":{` +
		`"organisations":{"type":"array","items":{"type":"string"}},` +
		`"people":{"type":"array","items":{"type":"string"}},` +
		`"content":{"type":"array","items":{"type":"object","properties":{` +
		`"description":{"type":"string"},` +
		`"type":{"type":"string","enum":["book","article","video","item","other"]}},` +
		`"required":["description","type"]}},` +
		`"events":{"type":"array","items":{"type":"string"}}},` +
		`"required":["organisations","people","content","events"]}`)

	searchSchema = json.RawMessage(`{"type":"object","properties":{` +
		`"web_url":{"type":"string"},"image_url":{"type":"string"},"title":{"type":"string"}},` +
		`"required":["web_url","image_url"]}`)
)

const extractPrompt = `Read through the following transcript. Were references to any of the following made:
- famous organisations
- famous people
- pieces of content (e.g. books, letters, articles, food or drink, items)
- events

Structure your answer as an object with the keys organisations, people, content and events.
Each value is a list of every reference of that kind, or an empty list when there are none.
For content, each entry is an object with "description" and "type" (book, article, video, item or other).

Example:
{"organisations": [], "people": ["Alan Watts", "Richard Feynman"], "content": [{"description": "The Wisdom of Insecurity", "type": "book"}], "events": ["The Arab Spring"]}

Transcript: %s`

const directImageRule = `For image_url return a direct link to an image file (.jpg, .jpeg, .png or .webp), not a web page.
Correct: https://upload.wikimedia.org/wikipedia/commons/thumb/a/b/example.jpg
Wrong: https://commons.wikimedia.org/wiki/File:example.jpg`

// searchPlan is the prompt and domain filter used to look up one mention.
type searchPlan struct {
	prompt  string
	domains []string
}

func planFor(m Mention) searchPlan {
	switch m.Kind {
	case KindPerson:
		return searchPlan{
			prompt: fmt.Sprintf("Return a direct image file URL and a Wikipedia URL for the person '%s'.\n%s\n"+
				"If there is no Wikipedia page, return another biographical page or personal website. Prefer Wikimedia Commons for images.\n"+
				"Answer as JSON with web_url and image_url.", m.Description, directImageRule),
			domains: []string{"wikipedia.org", "wikimedia.org", "-pinterest.com", "-goodreads.com", "-gettyimages.com"},
		}
	case KindOrganisation:
		return searchPlan{
			prompt: fmt.Sprintf("Return a direct logo image file URL (.svg is also accepted) and a Wikipedia URL for the organisation '%s'.\n%s\n"+
				"If there is no Wikipedia page, return the official website. Prefer Wikimedia Commons or official sites for logos.\n"+
				"Answer as JSON with web_url and image_url.", m.Description, directImageRule),
			domains: []string{"wikipedia.org", "wikimedia.org", "-pinterest.com", "-goodreads.com"},
		}
	case KindEvent:
		return searchPlan{
			prompt: fmt.Sprintf("Return a source URL and an image URL for the event '%s'.\n%s\n"+
				"Prefer Wikipedia or the official event website.\nAnswer as JSON with web_url and image_url.", m.Description, directImageRule),
			domains: []string{"wikipedia.org", "wikimedia.org", "-pinterest.com"},
		}
	}

	switch m.ContentType {
	case ContentBook:
		return searchPlan{
			prompt: fmt.Sprintf("Return a source URL and a direct image file URL for the cover of the book '%s'.\n"+
				"Example image: https://covers.openlibrary.org/b/id/12345-L.jpg\n"+
				"Prefer Open Library or Archive.org for covers and Wikipedia or the publisher for the source URL.\n"+
				"Answer as JSON with web_url, image_url and title.", m.Description),
			domains: []string{"openlibrary.org", "archive.org", "wikipedia.org", "-goodreads.com", "-pinterest.com"},
		}
	case ContentVideo:
		return searchPlan{
			prompt: fmt.Sprintf("Return a source URL and a thumbnail image URL for the video '%s'.\n"+
				"Return a YouTube URL when one exists.\nAnswer as JSON with web_url, image_url and title.", m.Description),
			domains: []string{"youtube.com", "vimeo.com", "archive.org", "-pinterest.com"},
		}
	case ContentItem:
		return searchPlan{
			prompt: fmt.Sprintf("Return a source URL and a direct image file URL for the item '%s'.\n%s\n"+
				"Prefer Wikipedia or the manufacturer's site.\nAnswer as JSON with web_url, image_url and title.", m.Description, directImageRule),
			domains: []string{"wikipedia.org", "wikimedia.org", "-pinterest.com", "-amazon.com"},
		}
	default:
		return searchPlan{
			prompt: fmt.Sprintf("Return a source URL and an image URL for the content '%s'.\n"+
				"For an article, return a URL from a reputable news site. Prefer Wikimedia Commons or official sources for images.\n"+
				"Answer as JSON with web_url, image_url and title, where title is a headline summary.", m.Description),
			domains: []string{"wikipedia.org", "wikimedia.org", "-pinterest.com", "-goodreads.com"},
		}
	}
}
