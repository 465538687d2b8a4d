//go:build ignore

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

var controls = []string{"<|im_start|>", "<|im_end|>", "<|endoftext|>"}

func tokenize(s string) []int {
	var ids []int
	for len(s) > 0 {
		hit := false
		for i, c := range controls {
			if strings.HasPrefix(s, c) {
				ids = append(ids, 200000+i)
				s = s[len(c):]
				hit = true
				break
			}
		}
		if hit {
			continue
		}
		r := []rune(s)[0]
		ids = append(ids, int(r))
		s = s[len(string(r)):]
	}
	return ids
}

func main() {
	var model, mmproj, host, port string
	var ctxSize, threads, ngl int
	var noOffload bool
	// Accept the subset of llama-server flags used by the launcher.
	flag.StringVar(&model, "m", "", "model path")
	flag.StringVar(&mmproj, "mmproj", "", "projector path")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.IntVar(&ctxSize, "c", 0, "context size")
	flag.IntVar(&threads, "t", 0, "threads")
	flag.IntVar(&ngl, "ngl", 0, "gpu layers")
	flag.BoolVar(&noOffload, "no-mmproj-offload", false, "keep projector on cpu")
	flag.Parse()

	if strings.Contains(model, "exit1") {
		fmt.Fprintln(os.Stderr, "error: failed to load model")
		os.Exit(1)
	}

	start := time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if time.Since(start) < 300*time.Millisecond {
			http.Error(w, `{"error":{"message":"Loading model"}}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/props", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"eos_token": "<|im_end|>", "model_path": model})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"tokens": tokenize(req.Content)})
	})

	srv := &http.Server{Addr: host + ":" + port, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for SIGTERM then shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
