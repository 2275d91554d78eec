package rtdb

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
	"sync"

	"github.com/pocketlist/pocketlist/internal/remote"
)

// Subscribe opens a streaming subscription to the collection at path.
//
// The backend pushes put/patch events describing changes relative to the
// subscribed path. The subscription keeps the materialized tree and
// emits a full remote.Snapshot after every event, so subscribers always
// see complete collection state.
func (c *Client) Subscribe(ctx context.Context, path string, orderBy string) (remote.Subscription, error) {
	query := url.Values{}
	if orderBy != "" {
		// The streaming protocol requires the order key quoted.
		query.Set("orderBy", fmt.Sprintf("%q", orderBy))
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream for %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream for %s: backend returned %s", path, resp.Status)
	}

	sub := &subscription{
		cancel:    cancel,
		snapshots: make(chan remote.Snapshot, 16),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		tree:      make(map[string]any),
	}

	go sub.readLoop(resp.Body, c.logger)

	return sub, nil
}

type subscription struct {
	cancel    context.CancelFunc
	snapshots chan remote.Snapshot
	errs      chan error
	done      chan struct{}

	closeOnce sync.Once

	// tree is the materialized state under the subscribed path.
	// Owned by the read loop goroutine.
	tree map[string]any
}

func (s *subscription) Snapshots() <-chan remote.Snapshot { return s.snapshots }

func (s *subscription) Errs() <-chan error { return s.errs }

// Close tears down the streaming request and waits for the read loop to
// exit. Safe to call more than once.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// streamEvent is the payload of put and patch events.
type streamEvent struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// readLoop parses the event stream line by line and publishes a full
// snapshot after every state-changing event.
func (s *subscription) readLoop(body io.ReadCloser, logger logPrinter) {
	defer close(s.done)
	defer close(s.snapshots)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event != "" {
				if err := s.dispatch(event, data, logger); err != nil {
					s.fail(err)
					return
				}
			}
			event, data = "", ""
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.fail(fmt.Errorf("stream read failed: %w", err))
	}
}

// logPrinter is the subset of *log.Logger the stream needs.
type logPrinter interface {
	Printf(format string, v ...any)
}

// dispatch applies one stream event to the materialized tree.
func (s *subscription) dispatch(event, data string, logger logPrinter) error {
	switch event {
	case "put", "patch":
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			logger.Printf("Warning: skipping unparseable %s event: %v", event, err)
			return nil
		}

		var value any
		if len(ev.Data) > 0 {
			if err := json.Unmarshal(ev.Data, &value); err != nil {
				logger.Printf("Warning: skipping %s event with bad data: %v", event, err)
				return nil
			}
		}

		if event == "put" {
			s.put(ev.Path, value)
		} else {
			s.patch(ev.Path, value)
		}
		s.publish()
		return nil

	case "keep-alive":
		return nil

	case "cancel":
		return fmt.Errorf("subscription cancelled by backend")

	case "auth_revoked":
		return fmt.Errorf("subscription credentials revoked")

	default:
		logger.Printf("Warning: ignoring unknown stream event %q", event)
		return nil
	}
}

// put replaces the subtree at path. A nil value deletes it.
func (s *subscription) put(path string, value any) {
	segments := splitPath(path)
	if len(segments) == 0 {
		s.tree = make(map[string]any)
		if m, ok := value.(map[string]any); ok {
			s.tree = m
		}
		return
	}

	parent := s.descend(segments[:len(segments)-1], value != nil)
	if parent == nil {
		return
	}
	leaf := segments[len(segments)-1]
	if value == nil {
		delete(parent, leaf)
	} else {
		parent[leaf] = value
	}
}

// patch merges the keys of value into the node at path.
func (s *subscription) patch(path string, value any) {
	fields, ok := value.(map[string]any)
	if !ok {
		return
	}

	node := s.descend(splitPath(path), true)
	if node == nil {
		return
	}
	for k, v := range fields {
		if v == nil {
			delete(node, k)
		} else {
			node[k] = v
		}
	}
}

// descend walks the tree to the node at the given segments, creating
// intermediate maps when create is set.
func (s *subscription) descend(segments []string, create bool) map[string]any {
	node := s.tree
	for _, seg := range segments {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	return node
}

// publish emits the current tree as a full collection snapshot.
// Slow consumers see the latest state: stale queued snapshots are
// dropped rather than blocking the read loop.
func (s *subscription) publish() {
	snap := make(remote.Snapshot, len(s.tree))
	for key, v := range s.tree {
		record, ok := v.(map[string]any)
		if !ok {
			continue
		}
		copied := make(map[string]any, len(record))
		for k, fv := range record {
			copied[k] = fv
		}
		snap[key] = copied
	}

	for {
		select {
		case s.snapshots <- snap:
			return
		default:
			select {
			case <-s.snapshots:
			default:
			}
		}
	}
}

func (s *subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
