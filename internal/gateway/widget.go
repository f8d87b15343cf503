package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

type Theme struct {
	Color string `json:"color,omitempty"`
}

// Options configures one opening of the hosted checkout. Amount is in paise.
type Options struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
}

// Widget opens the hosted checkout and later delivers exactly one of the
// success or dismiss callbacks into session.
type Widget interface {
	Open(ctx context.Context, opts Options, session *Session) error
}

// WidgetConfig is what the buyer side needs before it can open a Widget.
type WidgetConfig struct {
	Key        string `json:"key"`
	ScriptURL  string `json:"scriptUrl"`
	ThemeColor string `json:"themeColor"`
}

// ScriptLoader fetches the checkout script at most once per lifecycle. A
// failed load is not remembered, so the next call tries again.
type ScriptLoader struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	loaded bool
	loads  int
}

func NewScriptLoader(url string, client *http.Client) *ScriptLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &ScriptLoader{url: url, client: client}
}

func (l *ScriptLoader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("build script request: %w", err)
	}
	l.loads++
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("load checkout script: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("load checkout script: status %d", resp.StatusCode)
	}
	l.loaded = true
	return nil
}

// Loads reports how many network fetches were attempted.
func (l *ScriptLoader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}
