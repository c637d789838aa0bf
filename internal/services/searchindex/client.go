package searchindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
	"github.com/yang-kun-long/YanheKt-AI/internal/stage"
)

const (
	stageName          = "searchindex"
	defaultResultSize  = 10
	defaultIndexPrefix = "yanhe-video-"
)

// Card types.
const (
	CardASR = "ASR"
	CardPPT = "PPT"
)

// Card is one searchable document.
type Card struct {
	VideoID     string         `json:"video_id"`
	Type        string         `json:"type"`
	Content     string         `json:"content"`
	StartTimeMS int64          `json:"start_time_ms"`
	EndTimeMS   int64          `json:"end_time_ms"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Type    string  `json:"type"`
	Score   float64 `json:"score"`
	StartMS int64   `json:"start_ms"`
	TimeStr string  `json:"time_str"`
	Content string  `json:"content"`
}

// Config captures the cluster connection settings.
type Config struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// Client wraps an Elasticsearch cluster.
type Client struct {
	es *elasticsearch.Client
}

// Option customizes the client.
type Option func(*elasticsearch.Config)

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *elasticsearch.Config) {
		if rt != nil {
			cfg.Transport = rt
		}
	}
}

// NewClient builds a client for cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	addresses := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	if len(addresses) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "connect", "no endpoints configured", nil)
	}
	esCfg := elasticsearch.Config{
		Addresses:  addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: 3,
	}
	if cfg.InsecureSkipVerify {
		esCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed clusters
		}
	}
	for _, opt := range opts {
		opt(&esCfg)
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "connect", "build client", err)
	}
	return &Client{es: es}, nil
}

// IndexName returns the per-video index name. Only lowercase letters, digits,
// '-' and '_' survive from videoID.
func IndexName(prefix, videoID string) string {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultIndexPrefix
	}
	var b strings.Builder
	for _, r := range strings.ToLower(videoID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return prefix + b.String()
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"video_id":      map[string]any{"type": "keyword"},
			"type":          map[string]any{"type": "keyword"},
			"content":       map[string]any{"type": "text", "analyzer": "standard"},
			"start_time_ms": map[string]any{"type": "long"},
			"end_time_ms":   map[string]any{"type": "long"},
			"metadata":      map[string]any{"type": "object", "enabled": false},
		},
	},
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return classify("ping", err)
	}
	defer drain(res)
	if res.IsError() {
		return statusError("ping", res)
	}
	return nil
}

// HealthCheck pings the cluster.
func (c *Client) HealthCheck(ctx context.Context) stage.Health {
	if err := c.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}

// EnsureIndex creates name with the card mapping. An existing index is fine.
func (c *Client) EnsureIndex(ctx context.Context, name string) error {
	body, err := json.Marshal(indexMapping)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "ensure_index", "encode mapping", err)
	}
	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return classify("ensure_index", err)
	}
	defer drain(res)
	if !res.IsError() {
		return nil
	}
	var failure errorResponse
	if decodeErr := json.NewDecoder(res.Body).Decode(&failure); decodeErr == nil &&
		failure.Error.Type == "resource_already_exists_exception" {
		return nil
	}
	return services.Wrap(markerFor(res.StatusCode), stageName, "ensure_index",
		fmt.Sprintf("create %s: http %d %s", name, res.StatusCode, failure.Error.Reason), nil)
}

// BulkIndex writes cards into name. Any rejected item fails the whole call so
// the caller can retry.
func (c *Client) BulkIndex(ctx context.Context, name string, cards []Card) error {
	if len(cards) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ordinals := make(map[string]int, len(cards))
	for _, card := range cards {
		slot := cardSlot(card)
		action := map[string]string{"_index": name, "_id": DocumentID(card, ordinals[slot])}
		ordinals[slot]++
		if err := enc.Encode(map[string]any{"index": action}); err != nil {
			return services.Wrap(services.ErrValidation, stageName, "bulk", "encode action", err)
		}
		if err := enc.Encode(card); err != nil {
			return services.Wrap(services.ErrValidation, stageName, "bulk", "encode card", err)
		}
	}
	res, err := c.es.Bulk(&buf,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(name),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return classify("bulk", err)
	}
	defer drain(res)
	if res.IsError() {
		return statusError("bulk", res)
	}
	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "bulk", "decode response", err)
	}
	if !parsed.Errors {
		return nil
	}
	failed := 0
	reason := ""
	for _, item := range parsed.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			failed++
			if reason == "" {
				reason = result.Error.Type + ": " + result.Error.Reason
			}
		}
	}
	return services.Wrap(services.ErrExternalTool, stageName, "bulk",
		fmt.Sprintf("%d of %d cards rejected (%s)", failed, len(cards), reason), nil)
}

// DocumentID is the stable document id of a card. ordinal separates cards of
// one batch that share video, type and start time. Re-indexing the same cards
// overwrites rather than duplicates them.
func DocumentID(card Card, ordinal int) string {
	return fmt.Sprintf("%s/%d", cardSlot(card), ordinal)
}

func cardSlot(card Card) string {
	return fmt.Sprintf("%s/%s/%d", card.VideoID, strings.ToLower(card.Type), card.StartTimeMS)
}

// Search runs a match query on content filtered to videoID, ordered by start
// time. A missing index yields no hits.
func (c *Client) Search(ctx context.Context, name, query, videoID string, size int) ([]Hit, error) {
	if size <= 0 {
		size = defaultResultSize
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must":   []any{map[string]any{"match": map[string]any{"content": query}}},
				"filter": []any{map[string]any{"term": map[string]any{"video_id": videoID}}},
			},
		},
		"size":         size,
		"sort":         []any{map[string]any{"start_time_ms": map[string]any{"order": "asc"}}},
		"track_scores": true,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "search", "encode query", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(name),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, classify("search", err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return []Hit{}, nil
	}
	if res.IsError() {
		return nil, statusError("search", res)
	}
	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stageName, "search", "decode response", err)
	}
	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := Hit{
			Type:    h.Source.Type,
			StartMS: h.Source.StartTimeMS,
			TimeStr: FormatClock(h.Source.StartTimeMS),
			Content: h.Source.Content,
		}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// FormatClock renders milliseconds as a UTC wall clock HH:MM:SS.
func FormatClock(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("15:04:05")
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	Status int `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  *float64 `json:"_score"`
			Source Card     `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

func statusError(op string, res *esapi.Response) error {
	var failure errorResponse
	_ = json.NewDecoder(res.Body).Decode(&failure)
	msg := fmt.Sprintf("http %d", res.StatusCode)
	if failure.Error.Type != "" {
		msg += ": " + failure.Error.Type + ": " + failure.Error.Reason
	}
	return services.Wrap(markerFor(res.StatusCode), stageName, op, msg, nil)
}

func markerFor(status int) error {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.ErrTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrConfiguration
	default:
		return services.ErrExternalTool
	}
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, op, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, stageName, op, "cluster unreachable", err)
}
