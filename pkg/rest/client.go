// Package rest implements backend.Rows and backend.Objects over the
// backend's HTTP surface. Filters are encoded as col=eq.value query
// parameters and ordered selects as order=col.asc lists, matching the
// row-store's query grammar.
package rest

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

	"github.com/ndanh/guildchat/pkg/backend"
)

// TokenProvider supplies the bearer token attached to every request.
// Returning an empty token is allowed; the request goes out with the
// apikey only and the backend decides what anonymous access gets.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	apikey  string
	tokens  TokenProvider
	http    *http.Client
}

func New(baseURL, apikey string, tokens TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apikey:  apikey,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func encodeQuery(q backend.Query) url.Values {
	v := url.Values{}
	if q.Columns != "" {
		v.Set("select", q.Columns)
	}
	for _, f := range q.Filters {
		v.Set(f.Column, fmt.Sprintf("eq.%v", f.Value))
	}
	if len(q.Orders) > 0 {
		parts := make([]string, 0, len(q.Orders))
		for _, o := range q.Orders {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		v.Set("order", strings.Join(parts, ","))
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apikey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("backend: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func decodeInto(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// rowList fetches the matching rows as raw JSON, for the zero-or-one and
// exactly-one select variants.
func (c *Client) rowList(ctx context.Context, table string, q backend.Query) ([]json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, encodeQuery(q), nil, "")
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := decodeInto(resp, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, record, dest any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	q := url.Values{}
	resp, err := c.do(ctx, http.MethodPost, "/rest/v1/"+table, q, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	if dest == nil {
		return decodeInto(resp, nil)
	}
	// Inserts return the affected rows as a list.
	var rows []json.RawMessage
	if err := decodeInto(resp, &rows); err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("backend: insert into %s returned %d rows", table, len(rows))
	}
	return json.Unmarshal(rows[0], dest)
}

func (c *Client) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, encodeQuery(q), nil, "")
	if err != nil {
		return err
	}
	return decodeInto(resp, dest)
}

func (c *Client) Single(ctx context.Context, table string, q backend.Query, dest any) error {
	rows, err := c.rowList(ctx, table, q)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("backend: select from %s: want exactly one row, got %d", table, len(rows))
	}
	return json.Unmarshal(rows[0], dest)
}

func (c *Client) MaybeSingle(ctx context.Context, table string, q backend.Query, dest any) (bool, error) {
	rows, err := c.rowList(ctx, table, q)
	if err != nil {
		return false, err
	}
	switch len(rows) {
	case 0:
		return false, nil
	case 1:
		return true, json.Unmarshal(rows[0], dest)
	default:
		return false, fmt.Errorf("backend: select from %s: want zero or one row, got %d", table, len(rows))
	}
}

func (c *Client) Update(ctx context.Context, table string, patch any, q backend.Query, dest any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table, encodeQuery(q), bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	if dest == nil {
		return decodeInto(resp, nil)
	}
	var rows []json.RawMessage
	if err := decodeInto(resp, &rows); err != nil {
		return err
	}
	if len(rows) != 1 {
		return fmt.Errorf("backend: update %s returned %d rows", table, len(rows))
	}
	return json.Unmarshal(rows[0], dest)
}

func (c *Client) Delete(ctx context.Context, table string, q backend.Query) error {
	resp, err := c.do(ctx, http.MethodDelete, "/rest/v1/"+table, encodeQuery(q), nil, "")
	if err != nil {
		return err
	}
	return decodeInto(resp, nil)
}

func (c *Client) RPC(ctx context.Context, fn string, args, dest any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	return decodeInto(resp, dest)
}

// Upload writes an object; the key must be unique, the store does not
// overwrite.
func (c *Client) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	resp, err := c.do(ctx, http.MethodPost, "/storage/v1/object/"+bucket+"/"+key, nil, r, "application/octet-stream")
	if err != nil {
		return err
	}
	return decodeInto(resp, nil)
}

func (c *Client) PublicURL(bucket, key string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + key
}

var (
	_ backend.Rows    = (*Client)(nil)
	_ backend.Objects = (*Client)(nil)
)
