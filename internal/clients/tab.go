package clients

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Tab is the page side of a window: it listens to the shell's event stream
// and sends messages back to it.
type Tab struct {
	shellURL string
	pageURL  string
	http     *http.Client
	logger   *zap.Logger

	mu       sync.Mutex
	reloaded bool
}

func NewTab(shellURL, pageURL string, hc *http.Client, logger *zap.Logger) *Tab {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tab{
		shellURL: strings.TrimRight(shellURL, "/"),
		pageURL:  pageURL,
		http:     hc,
		logger:   logger,
	}
}

// ControllerChanged reports whether the page should reload for a newly
// activated shell. It is true at most once per tab.
func (t *Tab) ControllerChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reloaded {
		return false
	}
	t.reloaded = true
	return true
}

// Listen dispatches every message on the event stream to handle until ctx is
// done or the stream ends.
func (t *Tab) Listen(ctx context.Context, handle func(context.Context, Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.shellURL+"/sw/events?url="+url.QueryEscape(t.pageURL), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect event stream: status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var event string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:") && event == "":
			var m Message
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &m); err != nil {
				t.logger.Debug("skip undecodable message", zap.Error(err))
				continue
			}
			handle(ctx, m)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}

// Send posts m to the shell.
func (t *Tab) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.shellURL+"/sw/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send %s: status %d", m.Type, resp.StatusCode)
	}
	return nil
}
