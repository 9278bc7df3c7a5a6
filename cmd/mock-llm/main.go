// Package main implements a mock LLM server for local hivemind development.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, routing by the request's "model" field, so the queen and the
// LLM-backed workers can run deterministic and offline. Point the client at
// it with llm.default_provider=openai and llm.endpoint=http://localhost:11434/v1.
//
// Usage:
//
//	mock-llm -fixtures ./fixtures -port 11434
//
// A fixture file "claude-sonnet-4-5.txt" answers every call for that model.
// Numbered variants ("fixer.1.txt", "fixer.2.txt") are served in call order,
// which is how the proposal fixer's reject-then-converge loops are exercised;
// the last numbered fixture repeats once the sequence is exhausted.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type server struct {
	latency time.Duration

	mu       sync.Mutex
	fixtures map[string][]string // model -> ordered replies
	served   map[string]int      // model -> calls answered
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory with fixture reply files")
	port := flag.Int("port", 11434, "port to listen on")
	latency := flag.Duration("latency", 0, "artificial per-call latency")
	flag.Parse()

	dir := *fixtureDir
	if dir == "" {
		dir = os.Getenv("MOCK_LLM_FIXTURES")
	}
	if dir == "" {
		dir = "fixtures"
	}

	fixtures, err := loadFixtures(dir)
	if err != nil {
		log.Fatalf("load fixtures from %s: %v", dir, err)
	}
	log.Printf("serving %d model(s) from %s", len(fixtures), dir)
	for model, seq := range fixtures {
		log.Printf("  %s: %d fixture(s)", model, len(seq))
	}

	s := &server{
		latency:  *latency,
		fixtures: fixtures,
		served:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/chat/completions", s.handleCompletions)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock LLM listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func (s *server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	content, ok := s.nextReply(req.Model)
	if !ok {
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	log.Printf("model=%s messages=%d reply_bytes=%d", req.Model, len(req.Messages), len(content))

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
	}
	resp.Choices = append(resp.Choices, struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	}{
		Message:      chatMessage{Role: "assistant", Content: content},
		FinishReason: "stop",
	})
	resp.Usage.PromptTokens = promptTokens(req.Messages)
	resp.Usage.CompletionTokens = len(content) / 4
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// nextReply picks the fixture for this call: the Nth numbered fixture for the
// model's Nth call, repeating the last one after the sequence runs out.
func (s *server) nextReply(model string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.fixtures[model]
	if !ok {
		return "", false
	}
	idx := s.served[model]
	s.served[model]++
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	return seq[idx], true
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	stats := make(map[string]int, len(s.served))
	for model, n := range s.served {
		stats[model] = n
	}
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

func promptTokens(messages []chatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

var numberedRe = regexp.MustCompile(`^(.+)\.(\d+)$`)

// loadFixtures reads every regular file in dir. "model.txt" is a single
// reply; "model.1.txt", "model.2.txt" form an ordered sequence.
func loadFixtures(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n       int
		content string
	}
	sequences := make(map[string][]numbered)
	singles := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if m := numberedRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[2])
			sequences[m[1]] = append(sequences[m[1]], numbered{n: n, content: string(data)})
		} else {
			singles[name] = string(data)
		}
	}

	fixtures := make(map[string][]string)
	for model, seq := range sequences {
		sort.Slice(seq, func(i, j int) bool { return seq[i].n < seq[j].n })
		for _, f := range seq {
			fixtures[model] = append(fixtures[model], f.content)
		}
		// An unnumbered file becomes the trailing fallback.
		if base, ok := singles[model]; ok {
			fixtures[model] = append(fixtures[model], base)
			delete(singles, model)
		}
	}
	for model, content := range singles {
		fixtures[model] = []string{content}
	}
	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files in %s", dir)
	}
	return fixtures, nil
}
