package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/harun/abitur/internal/config"
	"github.com/harun/abitur/internal/logger"
	"github.com/harun/abitur/pkg/agent"
	"github.com/stretchr/testify/require"
)

// fakeBotAPI serves the few Bot API methods the daemon calls and records
// everything except getUpdates.
type fakeBotAPI struct {
	server *httptest.Server

	mu     sync.Mutex
	calls  []botCall
	nextID int
}

type botCall struct {
	Method string
	Form   url.Values
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{nextID: 100}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) endpoint() string {
	return f.server.URL + "/bot%s/%s"
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := path.Base(r.URL.Path)

	var result interface{}
	switch method {
	case "getMe":
		result = map[string]interface{}{"id": 42, "is_bot": true, "first_name": "Abitur", "username": "abitur_bot"}
	case "getUpdates":
		time.Sleep(20 * time.Millisecond)
		result = []interface{}{}
	case "sendMessage", "editMessageText":
		f.mu.Lock()
		f.nextID++
		id := f.nextID
		f.calls = append(f.calls, botCall{Method: method, Form: r.PostForm})
		f.mu.Unlock()
		chatID, _ := strconv.ParseInt(r.PostForm.Get("chat_id"), 10, 64)
		result = map[string]interface{}{
			"message_id": id,
			"date":       0,
			"chat":       map[string]interface{}{"id": chatID, "type": "private"},
			"text":       r.PostForm.Get("text"),
		}
	default:
		f.mu.Lock()
		f.calls = append(f.calls, botCall{Method: method, Form: r.PostForm})
		f.mu.Unlock()
		result = true
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

// texts returns the text of every message sent or edited, in order.
func (f *fakeBotAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Method == "sendMessage" || c.Method == "editMessageText" {
			out = append(out, c.Form.Get("text"))
		}
	}
	return out
}

func (f *fakeBotAPI) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	mu       sync.Mutex
	answer   string
	err      error
	block    chan struct{}
	requests []agent.LLMRequest
}

func (p *fakeProvider) Call(ctx context.Context, req agent.LLMRequest) (*agent.LLMResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	answer, err, block := p.answer, p.err, p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &agent.LLMResponse{Content: answer}, nil
}

func (p *fakeProvider) Provider() string {
	return "fake"
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) lastRequest() agent.LLMRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type fakeFactory struct {
	provider *fakeProvider
}

func (f fakeFactory) NewProvider(agent.AuthProfile) (agent.LLMProvider, error) {
	return f.provider, nil
}

func useFakeProvider(t *testing.T, p *fakeProvider) {
	t.Helper()
	prev := newProviderFactory
	newProviderFactory = func() agent.ProviderCreator { return fakeFactory{provider: p} }
	t.Cleanup(func() { newProviderFactory = prev })
}

const testKnowledge = "Прикладная информатика: 25 бюджетных мест, экзамены: математика, информатика, русский язык."

func testConfig(t *testing.T, api *fakeBotAPI) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Session.StorageRoot = filepath.Join(dir, "sessions")
	cfg.Knowledge.Path = filepath.Join(dir, "programs.txt")
	cfg.Knowledge.Watch = false
	cfg.RateLimit.Enabled = false
	cfg.Telegram.BotToken = "123:test-token"
	cfg.Telegram.APIEndpoint = api.endpoint()
	cfg.AI.Profiles = []config.AIProfile{{ID: "primary", Provider: "fake", APIKey: "test-key", Priority: 1}}

	require.NoError(t, os.WriteFile(cfg.Knowledge.Path, []byte(testKnowledge), 0644))
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		if d.Status().Running {
			_ = d.Stop()
		} else {
			_ = d.queue.Close()
		}
	})
	return d
}
