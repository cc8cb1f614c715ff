package gerrit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// magicPrefixLen is the size of the anti-XSSI prefix `)]}'` Gerrit puts in
// front of every JSON response body. It is stripped by length, never by
// content.
const magicPrefixLen = 4

// Client talks to a Gerrit review server over its anonymous REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the review server at baseURL, e.g.
// "https://review.opendev.org".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
}

// Change is one element of a change-search response. Owner is kept as raw
// JSON so it passes through to the report byte-for-byte.
type Change struct {
	ID              string          `json:"id"`
	Subject         string          `json:"subject"`
	Status          string          `json:"status"`
	Owner           json.RawMessage `json:"owner"`
	Created         string          `json:"created"`
	Updated         string          `json:"updated"`
	Submitted       string          `json:"submitted"`
	CurrentRevision string          `json:"current_revision"`
}

// FileInfo carries the per-path attributes Gerrit reports for a revision.
type FileInfo struct {
	Status        string `json:"status"`
	Binary        bool   `json:"binary"`
	OldPath       string `json:"old_path"`
	LinesInserted int    `json:"lines_inserted"`
	LinesDeleted  int    `json:"lines_deleted"`
	Size          int64  `json:"size"`
	SizeDelta     int64  `json:"size_delta"`
}

// RevisionFile is one modified path in a revision's file listing.
type RevisionFile struct {
	Path string
	FileInfo
}

// DiffResult is the raw outcome of one file-diff request. Body is the
// unmodified response body; callers classify it by StatusCode.
type DiffResult struct {
	StatusCode int
	Body       []byte
}

// SearchChanges runs a change query with all revision metadata expanded and
// returns the matching changes in server order. Any transport, HTTP or
// decode failure is returned as an error.
func (c *Client) SearchChanges(ctx context.Context, query string) ([]Change, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("o", "ALL_REVISIONS")

	body, err := c.get(ctx, fmt.Sprintf("%s/changes/?%s", c.baseURL, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("search changes: %w", err)
	}

	var changes []Change
	if err := json.Unmarshal(StripMagicPrefix(body), &changes); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return changes, nil
}

// ListFiles returns the files modified by one revision of a change, in the
// order the server lists them. Gerrit encodes the listing as a JSON object
// keyed by path; decoding through a map would scramble that order, so the
// object is walked token by token instead. The change id and revision are
// used verbatim: Gerrit returns the triplet id already URL-encoded.
func (c *Client) ListFiles(ctx context.Context, changeID, revisionID string) ([]RevisionFile, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/changes/%s/revisions/%s/files/", c.baseURL, changeID, revisionID))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(StripMagicPrefix(body)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode file list: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode file list: expected object, got %v", tok)
	}

	var files []RevisionFile
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode file list: %w", err)
		}
		path, _ := key.(string)

		var info FileInfo
		if err := dec.Decode(&info); err != nil {
			return nil, fmt.Errorf("decode file list entry %q: %w", path, err)
		}
		files = append(files, RevisionFile{Path: path, FileInfo: info})
	}
	return files, nil
}

// FetchDiff requests the diff of one file in one revision. Only a transport
// failure is an error: HTTP error statuses are part of the result, since the
// caller records them per file rather than aborting.
func (c *Client) FetchDiff(ctx context.Context, changeID, revisionID, path string) (*DiffResult, error) {
	endpoint := fmt.Sprintf("%s/changes/%s/revisions/%s/files/%s/diff",
		c.baseURL, changeID, revisionID, escapePathSegment(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch diff %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch diff %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read diff %s: %w", path, err)
	}
	return &DiffResult{StatusCode: resp.StatusCode, Body: body}, nil
}

// get issues a GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// StripMagicPrefix discards the fixed-length anti-XSSI prefix from a Gerrit
// response body. It applies to all endpoints alike and never inspects the
// bytes it drops.
func StripMagicPrefix(body []byte) []byte {
	if len(body) < magicPrefixLen {
		return nil
	}
	return body[magicPrefixLen:]
}

const upperhex = "0123456789ABCDEF"

// escapePathSegment percent-encodes a file path for use as a single URL path
// segment. Everything outside the RFC 3986 unreserved set is encoded, the
// path separator included: Gerrit expects "a/b.py" as "a%2Fb.py". Neither
// url.PathEscape (leaves sub-delims like "+" literal) nor url.QueryEscape
// (turns spaces into "+") produces that form.
func escapePathSegment(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		}
	}
	return b.String()
}
