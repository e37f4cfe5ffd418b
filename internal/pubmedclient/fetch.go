package pubmedclient

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/aesop-rag/aesop/internal/model"
	"golang.org/x/sync/errgroup"
)

const defaultFetchBatchSize = 3

type pubmedArticleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation medlineCitation `xml:"MedlineCitation"`
}

type medlineCitation struct {
	PMID    string     `xml:"PMID"`
	Article xmlArticle `xml:"Article"`
}

type xmlArticle struct {
	Journal      xmlJournal `xml:"Journal"`
	ArticleTitle string     `xml:"ArticleTitle"`
	Abstract     xmlAbstract `xml:"Abstract"`
}

type xmlJournal struct {
	Title     string       `xml:"Title"`
	PubDate   xmlPubDate   `xml:"JournalIssue>PubDate"`
}

type xmlPubDate struct {
	Year      string `xml:"Year"`
	MedlineDate string `xml:"MedlineDate"`
}

type xmlAbstract struct {
	Texts []xmlAbstractText `xml:"AbstractText"`
}

type xmlAbstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

// Fetch retrieves full records for the given PMIDs via EFetch, in batches of
// defaultFetchBatchSize, fetched concurrently (mirroring Scout's searchAll).
// The shared rate limiter in doGet serializes the actual NCBI calls to the
// permitted rate regardless of how many batches run at once. A failing batch
// is logged and skipped rather than aborting the whole fetch — partial
// results are always returned, never an error, so Scout can keep working
// with whatever came back.
func (c *Client) Fetch(ctx context.Context, pmids []string) []model.Paper {
	var batches [][]string
	for i := 0; i < len(pmids); i += defaultFetchBatchSize {
		end := i + defaultFetchBatchSize
		if end > len(pmids) {
			end = len(pmids)
		}
		batches = append(batches, pmids[i:end])
	}

	results := make([][]model.Paper, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			batchPapers, err := c.fetchBatch(gctx, batch)
			if err != nil {
				slog.Warn("pubmedclient: fetch batch failed, skipping", "batch", batch, "error", err)
				return nil
			}
			results[i] = batchPapers
			return nil
		})
	}
	_ = g.Wait()

	var papers []model.Paper
	for _, batchPapers := range results {
		papers = append(papers, batchPapers...)
	}
	return papers
}

func (c *Client) fetchBatch(ctx context.Context, pmids []string) ([]model.Paper, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("rettype", "abstract")
	params.Set("retmode", "xml")

	body, err := c.doGet(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("pubmedclient.fetchBatch: %w", err)
	}

	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("pubmedclient.fetchBatch: decode: %w", err)
	}

	papers := make([]model.Paper, 0, len(set.Articles))
	for _, a := range set.Articles {
		papers = append(papers, convertArticle(a))
	}
	return papers, nil
}

func convertArticle(a pubmedArticle) model.Paper {
	c := a.Citation
	art := c.Article

	var absParts []string
	for _, t := range art.Abstract.Texts {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if t.Label != "" {
			absParts = append(absParts, t.Label+": "+text)
		} else {
			absParts = append(absParts, text)
		}
	}

	return model.Paper{
		PMID:             c.PMID,
		Title:            strings.TrimSpace(art.ArticleTitle),
		Abstract:         strings.Join(absParts, "\n\n"),
		PublicationYear:  parseYear(art.Journal.PubDate),
		Journal:          strings.TrimSpace(art.Journal.Title),
	}
}

// parseYear extracts a 4-digit year from the structured PubDate, falling
// back to scanning the free-text MedlineDate field when Year is absent
// (common for older or continuously-published journals).
func parseYear(d xmlPubDate) int {
	if y, err := strconv.Atoi(strings.TrimSpace(d.Year)); err == nil {
		return y
	}
	fields := strings.Fields(d.MedlineDate)
	if len(fields) > 0 {
		if y, err := strconv.Atoi(fields[0][:minInt(4, len(fields[0]))]); err == nil {
			return y
		}
	}
	return 0
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
