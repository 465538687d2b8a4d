package e2e

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"handscribe/internal/pipeline"
)

const (
	testRepo   = "ggml-org/Qwen2.5-VL-7B-Instruct-GGUF"
	specialIDs = 151643
)

// mapEnv is a process environment private to one test.
type mapEnv struct {
	mu sync.Mutex
	m  map[string]string
}

func newMapEnv() *mapEnv { return &mapEnv{m: map[string]string{}} }

func (e *mapEnv) LookupEnv(k string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.m[k]
	return v, ok
}

func (e *mapEnv) Setenv(k, v string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[k] = v
	return nil
}

func (e *mapEnv) Getenv(k string) string {
	v, _ := e.LookupEnv(k)
	return v
}

// newHubServer serves every file of testRepo as plain 200 responses without
// range support.
func newHubServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var gets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/" + testRepo + "/resolve/main/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		file := strings.TrimPrefix(r.URL.Path, prefix)
		body := []byte("GGUF" + strings.Repeat(file, 64))
		if r.Method == http.MethodGet {
			mu.Lock()
			gets = append(gets, file)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), gets...)
	}
}

// newLlamaServer fakes the llama-server endpoints used by the runtime client.
// Text tokenizes to code points; control tokens map to specialIDs+i. Every
// completion answers reply followed by the end token.
func newLlamaServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	special := map[string]int{}
	for i, tok := range pipeline.SpecialTokens {
		special[tok] = specialIDs + i
	}
	encode := func(s string) []int {
		if id, ok := special[s]; ok {
			return []int{id}
		}
		ids := make([]int, 0, len(s))
		for _, r := range s {
			ids = append(ids, int(r))
		}
		return ids
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/props", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"eos_token": "<|im_end|>"})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string][]int{"tokens": encode(req.Content)})
	})
	mux.HandleFunc("/detokenize", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tokens []int `json:"tokens"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var sb strings.Builder
		for _, id := range req.Tokens {
			sb.WriteRune(rune(id))
		}
		writeJSON(w, map[string]string{"content": sb.String()})
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt struct {
				PromptString   string   `json:"prompt_string"`
				MultimodalData []string `json:"multimodal_data"`
			} `json:"prompt"`
			NPredict int `json:"n_predict"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt.MultimodalData) != 1 {
			http.Error(w, "expected one image", http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.Prompt.PromptString, pipeline.MediaMarker) {
			http.Error(w, "prompt lacks media marker", http.StatusBadRequest)
			return
		}
		toks := append(encode(reply), special["<|im_end|>"])
		writeJSON(w, map[string]any{"content": reply, "tokens": toks, "stop": true, "stopped_eos": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func postImage(t *testing.T, url string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "page.png")
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}
