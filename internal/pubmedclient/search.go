package pubmedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

type esearchResponse struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IDList []string `json:"idlist"`
}

// Search runs an ESearch query against PubMed and returns matching PMIDs,
// most-relevant first, capped at limit results.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(limit))
	params.Set("sort", "relevance")

	body, err := c.doGet(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmedclient.Search: %w", err)
	}

	var parsed esearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pubmedclient.Search: decode: %w", err)
	}

	return parsed.Result.IDList, nil
}
