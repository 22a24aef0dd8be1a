// Package qdrant stores the vector index in a Qdrant collection over its REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"handbookrag/internal/domain"
	"handbookrag/internal/vectorstore"
)

// Qdrant search results are re-ranked locally so equal scores keep
// insertion order. A search asks for tieSlack extra hits and widens while
// the tie group at the k boundary may continue past the last hit.
const tieSlack = 16

const upsertBatch = 256

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("handbookrag/qdrant"))

// Config contains connection details for a Qdrant instance.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Builder writes every Build into its own collection named after the
// configured one, so indexes from earlier builds stay readable until
// they are closed.
type Builder struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	suffix     func() string
}

var _ vectorstore.Builder = (*Builder)(nil)

// NewBuilder creates a Builder. The collection defaults to "employee_handbook".
func NewBuilder(cfg Config) *Builder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "employee_handbook"
	}
	return &Builder{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		},
	}
}

// PointID derives a stable point id from a chunk's clause and insertion order.
func PointID(clauseID string, seq int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s#%d", clauseID, seq))).String()
}

func (b *Builder) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s", b.url, name)
}

// Build creates a fresh collection with cosine distance and uploads
// every chunk. A failed upload drops the partial collection.
func (b *Builder) Build(ctx context.Context, m vectorstore.Manifest, chunks []domain.EmbeddedChunk) (vectorstore.Index, error) {
	if err := vectorstore.ValidateBuild(m, chunks); err != nil {
		return nil, err
	}
	m.Count = len(chunks)
	if m.BuiltAt.IsZero() {
		m.BuiltAt = time.Now().UTC()
	}
	if len(chunks) == 0 {
		return &Index{b: b, manifest: m}, nil
	}

	idx := &Index{b: b, collection: b.collection + "_" + b.suffix(), manifest: m}
	collURL := b.collectionURL(idx.collection)
	create := map[string]any{
		"vectors": map[string]any{
			"size":     m.Space.Dimension,
			"distance": "Cosine",
		},
	}
	if err := b.do(ctx, http.MethodPut, collURL, create, nil); err != nil {
		return nil, fmt.Errorf("%w: creating collection %s: %w", domain.ErrIndex, idx.collection, err)
	}

	for start := 0; start < len(chunks); start += upsertBatch {
		end := start + upsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		points := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			ch := chunks[i]
			points = append(points, map[string]any{
				"id":     PointID(ch.Metadata.ClauseID, i),
				"vector": ch.Vector,
				"payload": map[string]any{
					"seq":       i,
					"clause_id": ch.Metadata.ClauseID,
					"source":    ch.Metadata.Source,
					"position":  ch.Metadata.Position,
					"text":      ch.Text,
				},
			})
		}
		if err := b.do(ctx, http.MethodPut, collURL+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("%w: uploading points %d-%d: %w", domain.ErrIndex, start, end-1, err)
		}
	}
	return idx, nil
}

// Index queries the collection written by one Build.
type Index struct {
	b          *Builder
	collection string
	manifest   vectorstore.Manifest
	closeOnce  sync.Once
	closeErr   error
}

func (x *Index) Manifest() vectorstore.Manifest { return x.manifest }

func (x *Index) Len() int { return x.manifest.Count }

// Collection is the Qdrant collection holding this index; empty for an
// index built from no chunks.
func (x *Index) Collection() string { return x.collection }

func (x *Index) Query(ctx context.Context, vector []float64, k int) (domain.RetrievalResult, error) {
	if err := vectorstore.ValidateQuery(x.manifest, x.manifest.Count, vector, k); err != nil {
		return nil, err
	}
	if x.manifest.Count == 0 {
		return domain.RetrievalResult{}, nil
	}
	limit := min(k+tieSlack, x.manifest.Count)
	for {
		cands, err := x.search(ctx, vector, limit)
		if err != nil {
			return nil, err
		}
		if limit >= x.manifest.Count || len(cands) < limit || !tieAtBoundary(cands, k) {
			return vectorstore.Rank(cands, k), nil
		}
		limit = min(limit*2, x.manifest.Count)
	}
}

// tieAtBoundary reports whether the k-th best score equals the lowest
// returned score, in which case unseen points may share it.
func tieAtBoundary(cands []vectorstore.Candidate, k int) bool {
	if len(cands) < k {
		return false
	}
	scores := make([]float64, len(cands))
	for i, c := range cands {
		scores[i] = c.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return scores[k-1] == scores[len(scores)-1]
}

func (x *Index) search(ctx context.Context, vector []float64, limit int) ([]vectorstore.Candidate, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				Seq      int    `json:"seq"`
				ClauseID string `json:"clause_id"`
				Source   string `json:"source"`
				Position int    `json:"position"`
				Text     string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := x.b.do(ctx, http.MethodPost, x.b.collectionURL(x.collection)+"/points/search", req, &resp); err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrIndex, err)
	}
	cands := make([]vectorstore.Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		cands = append(cands, vectorstore.Candidate{
			Seq:   p.Seq,
			Score: r.Score,
			Chunk: domain.Chunk{
				Text:     p.Text,
				Metadata: domain.Metadata{ClauseID: p.ClauseID, Source: p.Source, Position: p.Position},
			},
		})
	}
	return cands, nil
}

// Close drops the collection. Callers close an index only after no
// query uses it.
func (x *Index) Close() error {
	x.closeOnce.Do(func() {
		if x.collection == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), x.b.client.Timeout)
		defer cancel()
		if err := x.b.do(ctx, http.MethodDelete, x.b.collectionURL(x.collection), nil, nil, http.StatusNotFound); err != nil {
			x.closeErr = fmt.Errorf("%w: dropping collection %s: %w", domain.ErrIndex, x.collection, err)
		}
	})
	return x.closeErr
}

// do sends a JSON request. Statuses listed in okStatus are accepted
// alongside 2xx.
func (b *Builder) do(ctx context.Context, method, url string, body, out any, okStatus ...int) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("api-key", b.apiKey)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, s := range okStatus {
		if resp.StatusCode == s {
			return nil
		}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
