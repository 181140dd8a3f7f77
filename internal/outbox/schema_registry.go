package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

var errSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient resolves subject ids against a Confluent-compatible registry, registering
// JSON schemas on first use.
type SchemaRegistryClient struct {
	endpoint string
	http     *http.Client
}

func NewSchemaRegistryClient(endpoint string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the id of the latest version of subject. An unknown subject is
// registered with schema; any other lookup failure is returned unchanged.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	versions := c.endpoint + "/subjects/" + url.PathEscape(subject) + "/versions"

	id, err := c.call(ctx, http.MethodGet, versions+"/latest", nil)
	if !errors.Is(err, errSubjectNotFound) {
		if err != nil {
			return 0, fmt.Errorf("resolve subject %s: %w", subject, err)
		}
		return id, nil
	}

	body, err := json.Marshal(struct {
		SchemaType string `json:"schemaType"`
		Schema     string `json:"schema"`
	}{SchemaType: "JSON", Schema: schema})
	if err != nil {
		return 0, err
	}
	id, err = c.call(ctx, http.MethodPost, versions, body)
	if err != nil {
		return 0, fmt.Errorf("register subject %s: %w", subject, err)
	}
	return id, nil
}

// call performs one registry request and decodes the schema id from the reply.
func (c *SchemaRegistryClient) call(ctx context.Context, method, target string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", registryContentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return 0, errSubjectNotFound
	case resp.StatusCode >= 300:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("registry status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var reply struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode registry reply: %w", err)
	}
	return reply.ID, nil
}
