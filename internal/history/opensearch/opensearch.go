package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/termexec/internal/history"
)

// Sink indexes events into OpenSearch (or Elasticsearch) over its REST API.
// Each event is stored under the id "<session>-<type>", so a retried send
// overwrites instead of duplicating.
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	user     string
	password string
}

// New returns a sink for baseURL. Credentials embedded in baseURL are sent
// as HTTP basic auth and stripped from request URLs.
func New(baseURL, index string) *Sink {
	s := &Sink{client: &http.Client{Timeout: 5 * time.Second}, index: index}
	if u, err := url.Parse(baseURL); err == nil && u.User != nil {
		s.user = u.User.Username()
		s.password, _ = u.User.Password()
		u.User = nil
		baseURL = u.String()
	}
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *Sink) docURL(e history.Event) string {
	id := e.Record.SessionID + "-" + string(e.Type)
	return s.baseURL + "/" + url.PathEscape(s.index) + "/_doc/" + url.PathEscape(id)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.docURL(e), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
