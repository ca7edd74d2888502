// api/amplitude/client.go
package amplitude

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"amplisync/api/models"
)

// exportHourFormat is the compact date-hour format the export API expects
// for the start/end query parameters.
const exportHourFormat = "20060102T15"

// Scanner buffer cap; export lines carry full event payloads and can get
// large.
const maxLineBytes = 16 * 1024 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// Config carries everything the client needs; injected at construction
// rather than read from the environment inside the client.
type Config struct {
	URL           string
	APIKey        string
	SecretKey     string
	Timeout       time.Duration
	SkipMalformed bool // count-and-skip unparseable lines instead of aborting
}

// Client downloads time-windowed event archives from the Amplitude Export
// API and streams the decoded events to a callback.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchEvents performs exactly one GET against the export endpoint for the
// [start, end] window and invokes fn once per decoded event line, in stream
// order. The response body may be a zip of (gzip or plain) members, a single
// gzip stream, or plain newline-delimited JSON; the container is detected by
// content sniffing, never by the declared content type. The client does not
// retry; retry policy belongs to the caller.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error {
	if c.cfg.APIKey == "" || c.cfg.SecretKey == "" {
		return ErrMissingCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}
	q := url.Values{}
	q.Set("start", start.Format(exportHourFormat))
	q.Set("end", end.Format(exportHourFormat))
	req.URL.RawQuery = q.Encode()
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &TransportError{StatusCode: resp.StatusCode}
	}

	// The export API always returns bounded daily archives, so buffering the
	// body is fine and zip extraction needs random access anyway.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("failed to read export response: %w", err)}
	}

	if isZip(body) {
		return c.scanZip(body, fn)
	}

	var reader io.Reader = bytes.NewReader(body)
	if bytes.HasPrefix(body, gzipMagic) {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return c.scanLines("", reader, fn)
}

func isZip(body []byte) bool {
	return bytes.HasPrefix(body, []byte("PK\x03\x04"))
}

// scanZip walks every archive member and concatenates their events into one
// logical sequence. Members are sniffed individually: Amplitude ships
// gzip-compressed members, but plain JSON members appear in older exports.
func (c *Client) scanZip(body []byte, fn func(models.RawEvent) error) error {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, member := range archive.File {
		if err := c.scanZipMember(member, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) scanZipMember(member *zip.File, fn func(models.RawEvent) error) error {
	rc, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip member %s: %w", member.Name, err)
	}
	defer rc.Close()

	buffered := bufio.NewReader(rc)
	var reader io.Reader = buffered
	if magic, err := buffered.Peek(2); err == nil && bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return fmt.Errorf("failed to open gzip member %s: %w", member.Name, err)
		}
		defer gz.Close()
		reader = gz
	}
	return c.scanLines(member.Name, reader, fn)
}

func (c *Client) scanLines(member string, r io.Reader, fn func(models.RawEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event models.RawEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			malformed := &MalformedLineError{Member: member, Line: lineNo, Err: err}
			if c.cfg.SkipMalformed {
				log.Printf("Skipping malformed export line: %v", malformed)
				continue
			}
			return malformed
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read export lines: %w", err)
	}
	return nil
}
