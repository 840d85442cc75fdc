// Package search wraps the web-evidence collaborator. Like the generative
// service it is optional: a Noop client stands in when no API key is
// configured, and every failure degrades to "no evidence".
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client looks up supporting evidence and images for an entity name.
type Client interface {
	LookupEntityEvidence(ctx context.Context, name string) (string, error)
	LookupEntityImage(ctx context.Context, name string) (string, error)
}

// Noop is the capability-absent client: lookups return empty results.
type Noop struct{}

func (Noop) LookupEntityEvidence(ctx context.Context, name string) (string, error) { return "", nil }
func (Noop) LookupEntityImage(ctx context.Context, name string) (string, error)    { return "", nil }

// SerperClient queries the Serper search API.
type SerperClient struct {
	apiKey  string
	baseURL string
	country string
	lang    string
	http    *http.Client
	log     *zap.Logger
}

func NewSerperClient(apiKey, baseURL, country, lang string, timeout time.Duration, log *zap.Logger) *SerperClient {
	if baseURL == "" {
		baseURL = "https://google.serper.dev"
	}
	if country == "" {
		country = "eg"
	}
	if lang == "" {
		lang = "ar"
	}
	return &SerperClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		country: country,
		lang:    lang,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type serperResponse struct {
	KnowledgeGraph *struct {
		Title       string            `json:"title"`
		Type        string            `json:"type"`
		Description string            `json:"description"`
		Attributes  map[string]string `json:"attributes"`
	} `json:"knowledgeGraph"`
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	Images []struct {
		ImageURL     string `json:"imageUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
	} `json:"images"`
}

func (c *SerperClient) post(ctx context.Context, path, query string, num int) (*serperResponse, error) {
	body, err := json.Marshal(map[string]any{
		"q":   query,
		"gl":  c.country,
		"hl":  c.lang,
		"num": num,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}
	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// LookupEntityEvidence collects a compact evidence block: the knowledge
// graph card plus the top organic snippets.
func (c *SerperClient) LookupEntityEvidence(ctx context.Context, name string) (string, error) {
	year := time.Now().UTC().Year()
	query := fmt.Sprintf("%s لاعب كرة قدم wikipedia position club nationality %d", name, year)
	parsed, err := c.post(ctx, "/search", query, 5)
	if err != nil {
		c.log.Warn("evidence lookup failed", zap.String("name", name), zap.Error(err))
		return "", err
	}

	var b strings.Builder
	if kg := parsed.KnowledgeGraph; kg != nil {
		fmt.Fprintf(&b, "%s - %s\n", kg.Title, kg.Type)
		if kg.Description != "" {
			b.WriteString(kg.Description)
			b.WriteByte('\n')
		}
		for k, v := range kg.Attributes {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	for i, r := range parsed.Organic {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, r.Title, r.Snippet)
	}
	return b.String(), nil
}

// LookupEntityImage returns the first image result for the entity, or empty.
func (c *SerperClient) LookupEntityImage(ctx context.Context, name string) (string, error) {
	parsed, err := c.post(ctx, "/images", name+" لاعب كرة قدم", 6)
	if err != nil {
		c.log.Warn("image lookup failed", zap.String("name", name), zap.Error(err))
		return "", err
	}
	if len(parsed.Images) == 0 {
		return "", nil
	}
	if parsed.Images[0].ImageURL != "" {
		return parsed.Images[0].ImageURL, nil
	}
	return parsed.Images[0].ThumbnailURL, nil
}

// New returns a SerperClient when an API key is configured, else Noop.
func New(apiKey, baseURL, country, lang string, timeout time.Duration, log *zap.Logger) Client {
	if apiKey == "" {
		return Noop{}
	}
	return NewSerperClient(apiKey, baseURL, country, lang, timeout, log)
}
