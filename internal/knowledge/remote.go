package knowledge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RemoteBackendOpts configures a RemoteBackend.
type RemoteBackendOpts struct {
	URL     string
	Timeout time.Duration
	// For testing: inject a client instead of the default.
	HTTPClient *http.Client
}

// RemoteBackend queries an HTTP retrieval service. The service may answer
// with a JSON document or a text/event-stream of result chunks.
type RemoteBackend struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewRemoteBackend creates a RemoteBackend.
func NewRemoteBackend(opts RemoteBackendOpts) (*RemoteBackend, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("knowledge: remote backend: url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RemoteBackend{url: opts.URL, timeout: opts.Timeout, client: client}, nil
}

type remoteQuery struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	TenantID string `json:"tenant_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// Retrieve implements Retriever.
func (b *RemoteBackend) Retrieve(ctx context.Context, query string, topK int, filter Filter) []Result {
	if topK <= 0 {
		topK = DefaultTopK
	}
	results, err := b.fetch(ctx, query, topK, filter)
	if err != nil {
		log.Warn().Err(err).Str("url", b.url).Msg("knowledge: remote retrieval failed, continuing without context")
		return []Result{}
	}
	return rank(results, topK)
}

func (b *RemoteBackend) fetch(ctx context.Context, query string, topK int, filter Filter) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	body, err := json.Marshal(remoteQuery{Query: query, TopK: topK, TenantID: filter.TenantID, Category: filter.Category})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return ParseEventStream(resp.Body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

// ParseJSON normalizes a JSON retrieval response. It accepts a bare array
// of items or an object holding one under results, data, items or chunks.
func ParseJSON(data []byte) ([]Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	items, err := decodeItems(data)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(items))
	for _, it := range items {
		if r, ok := normalizeItem(it); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ParseEventStream normalizes a server-sent event stream. Each data line
// holds one item, an array of items or a wrapped response; "[DONE]" ends it.
func ParseEventStream(r io.Reader) ([]Result, error) {
	var out []Result
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var pending strings.Builder
	flush := func() error {
		payload := strings.TrimSpace(pending.String())
		pending.Reset()
		if payload == "" || payload == "[DONE]" {
			return nil
		}
		rs, err := ParseJSON([]byte(payload))
		if err != nil {
			return err
		}
		out = append(out, rs...)
		return nil
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return out, err
			}
		case strings.HasPrefix(line, "data:"):
			if pending.Len() > 0 {
				pending.WriteByte('\n')
			}
			pending.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, flush()
}

func decodeItems(data []byte) ([]map[string]interface{}, error) {
	switch data[0] {
	case '[':
		var items []map[string]interface{}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return items, nil
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		for _, key := range []string{"results", "data", "items", "chunks"} {
			if arr, ok := obj[key].([]interface{}); ok {
				return toMaps(arr), nil
			}
		}
		return []map[string]interface{}{obj}, nil
	default:
		return nil, fmt.Errorf("unexpected payload starting with %q", data[0])
	}
}

func toMaps(arr []interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

var (
	textKeys   = []string{"text", "content", "page_content", "chunk"}
	sourceKeys = []string{"source", "url", "document", "document_name"}
	scoreKeys  = []string{"score", "similarity", "relevance"}
)

// normalizeItem maps one loosely-typed item to a Result. A content field
// holding serialized JSON is unwrapped; otherwise it is used verbatim.
func normalizeItem(it map[string]interface{}) (Result, bool) {
	r := Result{
		Text:   firstStr(it, textKeys),
		Source: firstStr(it, sourceKeys),
		Title:  firstStr(it, []string{"title"}),
		Score:  score(it),
	}
	if meta, ok := it["metadata"].(map[string]interface{}); ok {
		if r.Source == "" {
			r.Source = firstStr(meta, sourceKeys)
		}
		if r.Title == "" {
			r.Title = firstStr(meta, []string{"title"})
		}
	}

	if inner, ok := unwrapJSON(r.Text); ok {
		if t := firstStr(inner, textKeys); t != "" {
			r.Text = t
		}
		if s := firstStr(inner, sourceKeys); s != "" {
			r.Source = s
		}
		if t := firstStr(inner, []string{"title"}); t != "" {
			r.Title = t
		}
		if _, has := anyKey(inner, scoreKeys); has {
			r.Score = score(inner)
		}
	}

	r.Text = strings.TrimSpace(r.Text)
	if r.Source == "" {
		r.Source = r.Title
	}
	return r, r.Text != ""
}

func unwrapJSON(s string) (map[string]interface{}, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

func firstStr(m map[string]interface{}, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func anyKey(m map[string]interface{}, keys []string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// score reads a similarity, converting a distance when only that is given.
func score(m map[string]interface{}) float64 {
	if v, ok := anyKey(m, scoreKeys); ok {
		return toFloat(v)
	}
	if v, ok := m["distance"]; ok {
		return 1 / (1 + toFloat(v))
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		_, _ = fmt.Sscanf(n, "%g", &f)
		return f
	}
	return 0
}
