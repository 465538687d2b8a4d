package llamaserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"handscribe/internal/pipeline"
)

const fakeSpecialBase = 151643

// fakeServer mimics the llama-server endpoints the client uses. Runes map to
// their code points and control tokens to ids from fakeSpecialBase.
type fakeServer struct {
	reply  string
	status int // forced status for /completion
	eos    string

	mu      sync.Mutex
	lastReq completionRequest
	tokReqs []tokenizeRequest
}

func (f *fakeServer) tokenize(s string) []int {
	var ids []int
	for len(s) > 0 {
		hit := false
		for i, c := range pipeline.SpecialTokens {
			if strings.HasPrefix(s, c) {
				ids = append(ids, fakeSpecialBase+i)
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

func (f *fakeServer) last() completionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeServer) tokenizeRequests() []tokenizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tokenizeRequest(nil), f.tokReqs...)
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/props", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"eos_token": f.eos})
	})
	mux.HandleFunc("/tokenize", func(w http.ResponseWriter, r *http.Request) {
		var req tokenizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.tokReqs = append(f.tokReqs, req)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(tokenizeResponse{Tokens: f.tokenize(req.Content)})
	})
	mux.HandleFunc("/detokenize", func(w http.ResponseWriter, r *http.Request) {
		var req detokenizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var b strings.Builder
		for _, id := range req.Tokens {
			if id >= fakeSpecialBase {
				b.WriteString(pipeline.SpecialTokens[id-fakeSpecialBase])
				continue
			}
			b.WriteRune(rune(id))
		}
		_ = json.NewEncoder(w).Encode(detokenizeResponse{Content: b.String()})
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastReq = req
		f.mu.Unlock()
		if f.status != 0 {
			http.Error(w, `{"error":"boom"}`, f.status)
			return
		}
		toks := f.tokenize(f.reply)
		if len(toks) > req.NPredict {
			toks = toks[:req.NPredict]
		}
		_ = json.NewEncoder(w).Encode(completionResponse{Content: f.reply, Tokens: toks, Stop: true, StoppedEOS: true, TokensEval: 42})
	})
	return mux
}

func newFake(t *testing.T, f *fakeServer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

// buildFakeBinary builds testdata/fake_llama_server.go and returns its path.
func buildFakeBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}
