package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// Byte-level vocabulary: id = byte + 100, BOS = 1, EOS = 2.
func encode(s string) []int32 {
	out := make([]int32, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, int32(s[i])+100)
	}
	return out
}

func main() {
	var model, host, port, cacheK, cacheV string
	var ctxSize, threads, ngl int
	var fail bool
	// Accept the subset of llama-server flags the adapter passes.
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&ctxSize, "c", 0, "context size")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.IntVar(&ngl, "ngl", 0, "gpu layers")
	flag.StringVar(&cacheK, "cache-type-k", "", "k cache type")
	flag.StringVar(&cacheV, "cache-type-v", "", "v cache type")
	flag.BoolVar(&fail, "fail", false, "exit with status 1 before serving")
	flag.Parse()

	if fail {
		fmt.Fprintln(os.Stderr, "error: failed to load model", model)
		os.Exit(1)
	}

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
		toks := encode(req.Content)
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
		reply := " Take a slow breath."
		_ = json.NewEncoder(w).Encode(map[string]any{"content": reply, "tokens": append(encode(reply), 2), "stop": true, "stop_type": "eos"})
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
