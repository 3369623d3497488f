package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/agrathwohl/pvp/internal/protocol"
)

// SnapshotEvent names the event carrying the initial session state.
const SnapshotEvent = "snapshot"

// ErrStreamClosed is returned when the server ends a stream the caller
// did not cancel.
var ErrStreamClosed = errors.New("stream closed by server")

// Stream opens the participant's event stream and calls fn for each
// event until ctx is done, fn returns an error, or the server hangs up.
// Cancelling ctx returns nil.
func (c *HTTPClient) Stream(ctx context.Context, sr *StreamRequest, fn func(Event) error) error {
	q := url.Values{}
	q.Set("participant", sr.ParticipantID)
	if len(sr.Types) > 0 {
		q.Set("types", strings.Join(sr.Types, ","))
	}
	path := "/v1/sessions/" + url.PathEscape(sr.SessionID) + "/stream?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if sr.LastEventID != "" {
		req.Header.Set("Last-Event-ID", sr.LastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, body)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses an SSE body. Comment lines are ignored and multiple
// data lines of one event are joined with newlines.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var id, name string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				evt, err := decodeEvent(id, name, data.String())
				if err != nil {
					return err
				}
				if err := fn(evt); err != nil {
					return err
				}
			}
			id, name = "", ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return ErrStreamClosed
}

func decodeEvent(id, name, data string) (Event, error) {
	evt := Event{ID: id, Name: name}
	if name == SnapshotEvent {
		var st protocol.SessionState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return Event{}, fmt.Errorf("decoding snapshot: %w", err)
		}
		evt.Snapshot = &st
		return evt, nil
	}
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return Event{}, fmt.Errorf("decoding event %s: %w", id, err)
	}
	evt.Message = &env
	return evt, nil
}
