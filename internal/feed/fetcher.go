// Package feed fetches and normalizes podcast RSS/Atom feeds. URLs pass the
// SSRF guard before any network access, and every item is reduced to the
// fields the ledger needs: a stable dedup key, an audio enclosure, publish
// time, and duration.
package feed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/ssrf"
)

const fetchTimeout = 30 * time.Second

const userAgent = "podscribe/1.0 (+https://github.com/podscribe/podscribe)"

// Item is one feed entry normalized for the ledger.
type Item struct {
	GUID            string
	Title           string
	AudioURL        string
	AudioType       string
	PublishedAt     *time.Time
	DurationSeconds *float64
}

// Feed is the parsed result of one fetch.
type Feed struct {
	Title      string
	ArtworkURL string
	Items      []Item
}

// Fetcher retrieves podcast feeds over HTTP.
type Fetcher struct {
	client *http.Client
	parser *gofeed.Parser
	logger *slog.Logger
}

// Option customizes fetcher construction.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// NewFetcher builds a feed fetcher.
func NewFetcher(logger *slog.Logger, opts ...Option) *Fetcher {
	fetcher := &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
		parser: gofeed.NewParser(),
		logger: logging.NewComponentLogger(logger, "feed"),
	}
	for _, opt := range opts {
		opt(fetcher)
	}
	return fetcher
}

// Fetch retrieves a feed and returns up to limit items, newest first. A limit
// of zero or less returns every item.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, limit int) (*Feed, error) {
	if !ssrf.ValidFeedURL(feedURL) {
		return nil, services.Wrap(services.ErrValidation, "feed", "fetch", "feed url rejected", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "feed", "fetch", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "feed", "fetch", "request feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, services.Wrap(services.ErrTransport, "feed", "fetch",
			fmt.Sprintf("feed returned status %d", resp.StatusCode), nil)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrParse, "feed", "fetch", "parse feed", err)
	}

	feed := &Feed{
		Title:      strings.TrimSpace(parsed.Title),
		ArtworkURL: ssrf.ArtworkURL(feedArtwork(parsed)),
	}

	for _, raw := range parsed.Items {
		if raw == nil {
			continue
		}
		item, ok := normalizeItem(raw)
		if !ok {
			f.logger.Debug("skipping item without audio enclosure",
				logging.String("feed_url", feedURL),
				logging.String("item_title", raw.Title))
			continue
		}
		feed.Items = append(feed.Items, item)
	}

	sortNewestFirst(feed.Items)
	if limit > 0 && len(feed.Items) > limit {
		feed.Items = feed.Items[:limit]
	}

	f.logger.Debug("fetched feed",
		logging.String("feed_url", feedURL),
		logging.String("title", feed.Title),
		logging.Int("items", len(feed.Items)))

	return feed, nil
}

func feedArtwork(parsed *gofeed.Feed) string {
	if parsed.Image != nil && parsed.Image.URL != "" {
		return parsed.Image.URL
	}
	if parsed.ITunesExt != nil {
		return parsed.ITunesExt.Image
	}
	return ""
}

func normalizeItem(raw *gofeed.Item) (Item, bool) {
	audioURL, audioType := audioEnclosure(raw)
	if audioURL == "" {
		return Item{}, false
	}

	item := Item{
		GUID:        strings.TrimSpace(raw.GUID),
		Title:       strings.TrimSpace(raw.Title),
		AudioURL:    audioURL,
		AudioType:   audioType,
		PublishedAt: raw.PublishedParsed,
	}
	if item.GUID == "" {
		sum := md5.Sum([]byte(audioURL))
		item.GUID = hex.EncodeToString(sum[:])
	}
	if raw.ITunesExt != nil {
		if seconds, ok := parseDuration(raw.ITunesExt.Duration); ok {
			item.DurationSeconds = &seconds
		}
	}
	return item, true
}

func audioEnclosure(raw *gofeed.Item) (string, string) {
	for _, enclosure := range raw.Enclosures {
		if enclosure == nil || enclosure.URL == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enclosure.Type), "audio/") {
			return enclosure.URL, enclosure.Type
		}
	}
	// Some feeds publish audio only as media:content.
	if media, ok := raw.Extensions["media"]; ok {
		for _, content := range media["content"] {
			url := content.Attrs["url"]
			mediaType := content.Attrs["type"]
			if url == "" {
				continue
			}
			if strings.HasPrefix(strings.ToLower(mediaType), "audio/") {
				return url, mediaType
			}
		}
	}
	return "", ""
}

// parseDuration accepts HH:MM:SS, MM:SS, or raw seconds.
func parseDuration(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false
	}
	parts := strings.Split(trimmed, ":")
	switch len(parts) {
	case 1:
		seconds, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || seconds < 0 {
			return 0, false
		}
		return seconds, true
	case 2, 3:
		total := 0.0
		for _, part := range parts {
			component, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || component < 0 {
				return 0, false
			}
			total = total*60 + component
		}
		return total, true
	default:
		return 0, false
	}
}

func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
