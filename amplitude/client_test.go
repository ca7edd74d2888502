package amplitude

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplisync/api/models"
)

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
)

func collect(t *testing.T, client *Client) ([]models.RawEvent, error) {
	t.Helper()
	var events []models.RawEvent
	err := client.FetchEvents(context.Background(), windowStart, windowEnd, func(ev models.RawEvent) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(data)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchEventsMissingCredentials(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	_, err := collect(t, client)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, 0, requests, "no request may be made without credentials")
}

func TestFetchEventsPlainNDJSON(t *testing.T) {
	var gotUser, gotPass, gotStart, gotEnd string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		w.Write([]byte("{\"device_id\":\"d1\"}\n\n{\"device_id\":\"d2\"}\n"))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})
	events, err := collect(t, client)
	require.NoError(t, err)

	assert.Equal(t, "key", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "20240101T00", gotStart)
	assert.Equal(t, "20240101T12", gotEnd)

	require.Len(t, events, 2)
	assert.Equal(t, "d1", events[0].Str("device_id"))
	assert.Equal(t, "d2", events[1].Str("device_id"))
}

func TestFetchEventsGzipStream(t *testing.T) {
	body := gzipBytes(t, []byte("{\"device_id\":\"d1\"}\n{\"device_id\":\"d2\"}\n"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately lie about the content type: the client must sniff.
		w.Header().Set("Content-Type", "text/plain")
		w.Write(body)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})
	events, err := collect(t, client)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestFetchEventsZipOfMixedMembers(t *testing.T) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	first, err := archive.Create("part-1.json.gz")
	require.NoError(t, err)
	_, err = first.Write(gzipBytes(t, []byte("{\"device_id\":\"d1\"}\n")))
	require.NoError(t, err)

	second, err := archive.Create("part-2.json")
	require.NoError(t, err)
	_, err = second.Write([]byte("{\"device_id\":\"d2\"}\n{\"device_id\":\"d3\"}\n"))
	require.NoError(t, err)

	require.NoError(t, archive.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})
	events, err := collect(t, client)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "d1", events[0].Str("device_id"))
	assert.Equal(t, "d2", events[1].Str("device_id"))
	assert.Equal(t, "d3", events[2].Str("device_id"))
}

func TestFetchEventsMalformedLineAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"device_id\":\"d1\"}\nnot json at all\n{\"device_id\":\"d2\"}\n"))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})
	events, err := collect(t, client)

	var malformed *MalformedLineError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 2, malformed.Line)
	assert.Len(t, events, 1, "events before the malformed line are delivered")
}

func TestFetchEventsSkipMalformedPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"device_id\":\"d1\"}\nnot json at all\n{\"device_id\":\"d2\"}\n"))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret", SkipMalformed: true})
	events, err := collect(t, client)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestFetchEventsNon2xxIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})
	_, err := collect(t, client)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusForbidden, transport.StatusCode)
}

func TestFetchEventsCallbackErrorStopsFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"device_id\":\"d1\"}\n{\"device_id\":\"d2\"}\n"))
	}))
	defer server.Close()

	stop := errors.New("stop")
	client := NewClient(Config{URL: server.URL, APIKey: "key", SecretKey: "secret"})

	seen := 0
	err := client.FetchEvents(context.Background(), windowStart, windowEnd, func(models.RawEvent) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}
