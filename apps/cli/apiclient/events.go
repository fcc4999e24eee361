package apiclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
)

// ErrStreamEnded is returned when the server closed the stream before a terminal snapshot.
var ErrStreamEnded = errors.New("activation stream ended early")

// Event is one server-sent event of the activation stream.
type Event struct {
	ID       string
	Name     string
	Snapshot Snapshot
}

// WatchOptions tune Watch.
type WatchOptions struct {
	// Reconnects bounds how many times a dropped stream is reopened. Zero disables reconnecting.
	Reconnects uint64
	// BackOff overrides the reconnect delay schedule.
	BackOff backoff.BackOff
}

// Watch follows /activation/events and calls fn for every snapshot until a terminal one arrives.
// A stream dropped mid-activation is reopened with Last-Event-ID; the server replays the latest state.
func (c *Client) Watch(ctx context.Context, opts WatchOptions, fn func(Event)) (Snapshot, error) {
	schedule := opts.BackOff
	if schedule == nil {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 500 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		exp.MaxElapsedTime = 0
		schedule = exp
	}
	schedule = backoff.WithContext(backoff.WithMaxRetries(schedule, opts.Reconnects), ctx)

	var (
		lastID string
		final  Snapshot
	)
	op := func() error {
		snap, id, err := c.readStream(ctx, lastID, fn)
		if id != "" {
			lastID = id
		}
		if err != nil {
			var p *Problem
			if errors.As(err, &p) && p.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}
			return err
		}
		final = snap
		return nil
	}
	if err := backoff.Retry(op, schedule); err != nil {
		return Snapshot{}, err
	}
	return final, nil
}

// readStream reads a single connection until a terminal snapshot or EOF.
func (c *Client) readStream(ctx context.Context, lastID string, fn func(Event)) (Snapshot, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/activation/events", nil)
	if err != nil {
		return Snapshot{}, "", backoff.Permanent(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return Snapshot{}, "", fmt.Errorf("open activation stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var buf [4096]byte
		n, _ := resp.Body.Read(buf[:])
		return Snapshot{}, "", decodeProblem(resp.StatusCode, buf[:n])
	}

	var (
		evt    Event
		data   strings.Builder
		seenID string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			if err := json.Unmarshal([]byte(data.String()), &evt.Snapshot); err != nil {
				return Snapshot{}, seenID, backoff.Permanent(fmt.Errorf("decode snapshot: %w", err))
			}
			if evt.ID != "" {
				seenID = evt.ID
			}
			if fn != nil {
				fn(evt)
			}
			if evt.Snapshot.Terminal() {
				return evt.Snapshot, seenID, nil
			}
			evt = Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "id: "):
			evt.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			evt.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return Snapshot{}, seenID, fmt.Errorf("read activation stream: %w", err)
	}
	if ctx.Err() != nil {
		return Snapshot{}, seenID, backoff.Permanent(ctx.Err())
	}
	return Snapshot{}, seenID, ErrStreamEnded
}
