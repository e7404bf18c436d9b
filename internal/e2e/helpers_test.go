package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"assistd/internal/httpapi"
	"assistd/internal/manager"
	"assistd/internal/runtime"
	"assistd/internal/runtime/llamaserver"
)

// llamaStub is an in-process llama-server with a byte-level vocabulary
// (id = byte + 100, BOS = 1, EOS = 2). Completions end with the EOS id and
// block on gate when it is set.
type llamaStub struct {
	reply     string
	failWith  string
	gate      chan struct{}
	mu        sync.Mutex
	completes int
}

func (s *llamaStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes
}

func stubEncode(text string) []int32 {
	out := make([]int32, 0, len(text))
	for i := 0; i < len(text); i++ {
		out = append(out, int32(text[i])+100)
	}
	return out
}

func (s *llamaStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content    string `json:"content"`
			AddSpecial bool   `json:"add_special"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		toks := stubEncode(req.Content)
		if req.AddSpecial {
			toks = append([]int32{1}, toks...)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tokens": toks})
	})
	mux.HandleFunc("/detokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tokens []int32 `json:"tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var b strings.Builder
		for _, id := range req.Tokens {
			switch id {
			case 1:
				b.WriteString("<s>")
				continue
			case 2:
				b.WriteString("</s>")
				continue
			}
			b.WriteByte(byte(id - 100))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": b.String()})
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.completes++
		s.mu.Unlock()
		if s.gate != nil {
			<-s.gate
		}
		if s.failWith != "" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 500, "message": s.failWith, "type": "server_error"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": s.reply, "tokens": append(stubEncode(s.reply), 2), "stop": true, "stop_type": "eos"})
	})
	return mux
}

// stack is the service wired the way serve wires it, attached to a stub
// llama-server.
type stack struct {
	api *httptest.Server
	mgr *manager.Manager
	reg *prometheus.Registry
}

func newStack(t *testing.T, stub *llamaStub, tune func(*manager.Config)) *stack {
	t.Helper()
	llama := httptest.NewServer(stub.handler())
	t.Cleanup(llama.Close)

	reg := prometheus.NewRegistry()
	cfg := manager.Config{
		Runtime: llamaserver.New(llamaserver.Config{
			BaseURL:           llama.URL,
			ReadyTimeout:      5 * time.Second,
			DetectAccelerator: func(context.Context) bool { return false },
			Logger:            zerolog.Nop(),
		}),
		ModelID:   "Revolc/AssistantTherapeutique",
		Precision: runtime.PrecisionAuto,
		Device:    runtime.DeviceAuto,
		Metrics:   manager.NewMetrics(reg),
		Logger:    zerolog.Nop(),
	}
	if tune != nil {
		tune(&cfg)
	}
	mgr := manager.New(cfg)
	api := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		api.Close()
		_ = mgr.Close()
	})
	return &stack{api: api, mgr: mgr, reg: reg}
}

func (s *stack) load(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.mgr.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func postChat(t *testing.T, base, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, base+"/chat", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}
