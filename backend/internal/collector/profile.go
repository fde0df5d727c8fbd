// Package collector turns public profile pages into raw observations. It only
// reads the generic metadata most platforms publish (OpenGraph, author,
// rel=me links, mailto links); platform specific scraping stays out of the
// engine.
package collector

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"osintgraph/backend/internal/constants"
	"osintgraph/backend/internal/observation"
)

// Profile is what could be read off one profile page
type Profile struct {
	Platform    string   `json:"platform"`
	URL         string   `json:"url"`
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Bio         string   `json:"bio,omitempty"`
	Location    string   `json:"location,omitempty"`
	Emails      []string `json:"emails,omitempty"`
	Links       []string `json:"links,omitempty"`
}

// ParseProfile extracts a Profile from an HTML document
func ParseProfile(platform string, r io.Reader, profileURL string) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}

	p := &Profile{
		Platform: strings.ToLower(strings.TrimSpace(platform)),
		URL:      profileURL,
	}
	p.Username = firstNonEmpty(
		metaContent(doc, `meta[property="profile:username"]`),
		metaContent(doc, `meta[name="twitter:creator"]`),
		handleFromURL(profileURL),
	)
	p.DisplayName = firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="author"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	p.Bio = firstNonEmpty(
		metaContent(doc, `meta[property="og:description"]`),
		metaContent(doc, `meta[name="description"]`),
	)
	p.Location = strings.TrimSpace(doc.Find(`[itemprop="homeLocation"], [itemprop="addressLocality"]`).First().Text())

	seen := make(map[string]struct{})
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.Index(addr, "?"); i >= 0 {
			addr = addr[:i]
		}
		addr, _ = url.PathUnescape(addr)
		addr = strings.TrimSpace(addr)
		if addr == "" || !strings.Contains(addr, "@") {
			return
		}
		if _, ok := seen["mail:"+addr]; ok {
			return
		}
		seen["mail:"+addr] = struct{}{}
		p.Emails = append(p.Emails, addr)
	})

	doc.Find(`a[rel~="me"], link[rel~="me"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil || u.Hostname() == "" {
			return
		}
		if _, ok := seen["link:"+u.String()]; ok {
			return
		}
		seen["link:"+u.String()] = struct{}{}
		p.Links = append(p.Links, u.String())
	})

	return p, nil
}

// Observations maps the profile onto raw observations. Every observation
// carries the profile url, which the engine uses to keep one page's
// observations on one entity.
func (p *Profile) Observations(seenAt time.Time) []observation.RawObservation {
	meta := map[string]string{constants.MetaURL: p.URL}
	if p.DisplayName != "" {
		meta[constants.MetaDisplayName] = p.DisplayName
	}
	if p.Bio != "" {
		meta[constants.MetaBio] = p.Bio
	}
	if p.Location != "" {
		meta[constants.MetaLocation] = p.Location
	}

	obs := func(kind observation.Kind, value string) observation.RawObservation {
		md := make(map[string]string, len(meta))
		for k, v := range meta {
			md[k] = v
		}
		return observation.RawObservation{
			Platform:     p.Platform,
			Kind:         kind,
			Value:        value,
			DiscoveredAt: seenAt,
			Metadata:     md,
		}
	}

	var out []observation.RawObservation
	if p.Username != "" {
		out = append(out, obs(observation.KindUsername, p.Username))
	}
	for _, e := range p.Emails {
		out = append(out, obs(observation.KindEmail, e))
	}
	for _, l := range p.Links {
		out = append(out, obs(observation.KindDomain, l))
	}
	if p.Bio != "" {
		out = append(out, obs(observation.KindMetadata, p.Bio))
	}
	return out
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// handleFromURL takes the last path segment of a profile url as the handle
func handleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	handle := path.Base(strings.TrimRight(u.Path, "/"))
	if handle == "." || handle == "/" {
		return ""
	}
	return handle
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
