// Package connector pulls events from an upstream Splunk-compatible
// search API and publishes them onto the ingest subject. It owns the
// event_key each record carries, which is what makes re-polls of an
// overlapping time range harmless downstream.
package connector

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// sessionLifetime is assumed when the upstream does not report one.
const sessionLifetime = 55 * time.Minute

// Client talks to the upstream search API with automatic session renewal.
type Client struct {
	baseURL  string
	username string
	password string
	index    string
	http     *http.Client
	logger   *slog.Logger

	mu    sync.Mutex
	token SessionToken
}

// NewClient creates a Client for the given search head.
func NewClient(baseURL, username, password, index string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		index:    index,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

// Record is one upstream search result. Cursor is the upstream's own
// per-event identifier when it provides one.
type Record struct {
	Raw        string                 `json:"_raw"`
	Time       string                 `json:"_time"`
	Cursor     string                 `json:"_cd"`
	Host       string                 `json:"host"`
	Source     string                 `json:"source"`
	SourceType string                 `json:"sourcetype"`
	Fields     map[string]interface{} `json:"-"`
}

// EventKey returns the stable identity of a record: the upstream cursor
// when present, otherwise a content hash. Either way the same upstream
// event always maps to the same key.
func (r Record) EventKey() string {
	if r.Cursor != "" {
		return r.Cursor
	}
	sum := sha256.Sum256([]byte(r.Time + "|" + r.Host + "|" + r.Source + "|" + r.Raw))
	return hex.EncodeToString(sum[:])
}

func (c *Client) ensureToken(ctx context.Context) (SessionToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid(time.Now()) {
		return c.token, nil
	}

	form := url.Values{
		"username":    {c.username},
		"password":    {c.password},
		"output_mode": {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return SessionToken{}, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return SessionToken{}, fmt.Errorf("failed to log in: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SessionToken{}, fmt.Errorf("login returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SessionToken{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	if out.SessionKey == "" {
		return SessionToken{}, fmt.Errorf("login response carried no session key")
	}

	c.token = SessionToken{Value: out.SessionKey, ExpiresAt: time.Now().Add(sessionLifetime)}
	c.logger.Info("renewed upstream session", "expires_at", c.token.ExpiresAt)
	return c.token, nil
}

// Search runs an export search over [earliest, latest) and returns the
// decoded records. A 401 invalidates the cached session and surfaces as
// an error; the next poll logs in again.
func (c *Client) Search(ctx context.Context, earliest, latest time.Time) ([]Record, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("search index=%s", c.index)
	form := url.Values{
		"search":        {query},
		"earliest_time": {earliest.UTC().Format(time.RFC3339)},
		"latest_time":   {latest.UTC().Format(time.RFC3339)},
		"output_mode":   {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/services/search/jobs/export", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Splunk "+token.Value)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to run search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = SessionToken{}
		c.mu.Unlock()
		return nil, fmt.Errorf("search rejected: session expired")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return decodeExport(resp.Body)
}

// decodeExport parses the newline-delimited JSON stream the export
// endpoint produces. Lines that are not result rows (preview markers,
// progress messages) are skipped.
func decodeExport(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var row struct {
			Preview bool                   `json:"preview"`
			Result  map[string]interface{} `json:"result"`
		}
		if err := json.Unmarshal(line, &row); err != nil || row.Preview || row.Result == nil {
			continue
		}
		records = append(records, recordFromResult(row.Result))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export stream: %w", err)
	}
	return records, nil
}

func recordFromResult(result map[string]interface{}) Record {
	rec := Record{
		Raw:        stringField(result, "_raw"),
		Time:       stringField(result, "_time"),
		Cursor:     stringField(result, "_cd"),
		Host:       stringField(result, "host"),
		Source:     stringField(result, "source"),
		SourceType: stringField(result, "sourcetype"),
		Fields:     map[string]interface{}{},
	}
	for k, v := range result {
		switch k {
		case "_raw", "_time", "_cd", "host", "source", "sourcetype":
			continue
		}
		rec.Fields[k] = v
	}
	return rec
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
