// Package collab holds thin HTTP adapters for the external collaborator
// services: source fetching, document scanning, entity extraction and the
// keyword taxonomy. The engine only speaks JSON to them; their internals
// (HTML parsing, binary formats, NLP) live elsewhere.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"docwatch/internal/core/job"
	"docwatch/internal/core/pipeline"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pipeline.SourceFetcher

func (c *Client) ListDocuments(ctx context.Context, sourceURL string) ([]pipeline.DocumentRef, error) {
	var out struct {
		Documents []struct {
			Name     string     `json:"name"`
			URL      string     `json:"url"`
			Category string     `json:"category"`
			Date     *time.Time `json:"date"`
		} `json:"documents"`
	}
	in := map[string]string{"source_url": sourceURL}
	if err := c.postJSON(ctx, "/v1/sources/list", in, &out); err != nil {
		return nil, err
	}
	refs := make([]pipeline.DocumentRef, 0, len(out.Documents))
	for _, d := range out.Documents {
		ref := pipeline.DocumentRef{Name: d.Name, URL: d.URL, Category: d.Category}
		if d.Date != nil {
			ref.Date = *d.Date
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *Client) FetchDocument(ctx context.Context, ref pipeline.DocumentRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/documents?url="+url.QueryEscape(ref.URL), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned %d", ref.URL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// pipeline.DocumentScanner

func (c *Client) Scan(ctx context.Context, data []byte, pageBudget int, keywords []job.Keyword) (*pipeline.ScanResult, error) {
	in := map[string]interface{}{
		"document_base64": data, // encoding/json base64-encodes []byte
		"page_budget":     pageBudget,
		"keywords":        keywords,
	}
	var out struct {
		Matches []struct {
			Page      int    `json:"page"`
			KeywordID string `json:"keyword_id"`
			Keyword   string `json:"keyword"`
			Snippet   string `json:"snippet"`
		} `json:"matches"`
		Annotated []byte `json:"annotated_base64"`
	}
	if err := c.postJSON(ctx, "/v1/scan", in, &out); err != nil {
		return nil, err
	}
	res := &pipeline.ScanResult{Annotated: out.Annotated}
	for _, m := range out.Matches {
		res.Matches = append(res.Matches, pipeline.PageMatch{
			Page: m.Page, KeywordID: m.KeywordID, Keyword: m.Keyword, Snippet: m.Snippet,
		})
	}
	return res, nil
}

// pipeline.EntityExtractor

func (c *Client) Extract(ctx context.Context, snippet string) ([]string, error) {
	var out struct {
		Entities []string `json:"entities"`
	}
	if err := c.postJSON(ctx, "/v1/entities", map[string]string{"text": snippet}, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// job.KeywordSource

func (c *Client) KeywordsForTarget(ctx context.Context, targetRef string) ([]job.Keyword, error) {
	var out struct {
		Keywords []job.Keyword `json:"keywords"`
	}
	if err := c.postJSON(ctx, "/v1/keywords", map[string]string{"target_ref": targetRef}, &out); err != nil {
		return nil, err
	}
	return out.Keywords, nil
}
