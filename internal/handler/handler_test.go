package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/reviewer/internal/assistant"
	appI18n "github.com/pavelanni/reviewer/internal/i18n"
	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/model"
	"github.com/pavelanni/reviewer/internal/reply"
	"github.com/pavelanni/reviewer/internal/store"
)

const reviewer = `Photosynthesis converts light energy into chemical energy.
1. What do plants need for photosynthesis?
A. Sunlight
B. Darkness`

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testServer struct {
	router http.Handler
	store  *store.Store
	h      *Handler
}

func newTestServer(t *testing.T, cfg model.Config) *testServer {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if cfg.Subject == "" {
		cfg.Subject = "science"
	}
	a := assistant.New(s, reply.New(reply.WithSeed(1)), cfg)
	h := New(a, cfg)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)
	return &testServer{router: r, store: s, h: h}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("subject", "history")
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeNotice(t *testing.T, rec *httptest.ResponseRecorder) noticeResponse {
	t.Helper()
	var n noticeResponse
	if err := json.NewDecoder(rec.Body).Decode(&n); err != nil {
		t.Fatalf("decode notice: %v (body %q)", err, rec.Body.String())
	}
	return n
}

func TestHealthAndSubjects(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodGet, "/subjects", nil)
	if !strings.Contains(rec.Body.String(), `"science"`) {
		t.Errorf("subjects body = %s", rec.Body.String())
	}
}

func TestFeedAndQuestions(t *testing.T) {
	ts := newTestServer(t, model.Config{})

	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Subject: "science", Content: reviewer})
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d, body %s", rec.Code, rec.Body.String())
	}
	var fr feedResponse
	if err := json.NewDecoder(rec.Body).Decode(&fr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fr.Questions) != 1 || fr.Summary != "1 question extracted." {
		t.Errorf("feed response = %+v", fr)
	}
	if fr.Notice != "Knowledge base fed with science!" {
		t.Errorf("notice = %q", fr.Notice)
	}

	rec = ts.do(t, http.MethodGet, "/profiles/Ana/7/questions", nil)
	var qs []model.Question
	if err := json.NewDecoder(rec.Body).Decode(&qs); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(qs) != 1 || qs[0].Options[0] != "Sunlight" {
		t.Errorf("questions = %+v", qs)
	}

	rec = ts.do(t, http.MethodGet, "/profiles/Ana/7/knowledge", nil)
	var k model.Knowledge
	json.NewDecoder(rec.Body).Decode(&k)
	if k.Subject != "science" || !strings.HasPrefix(k.Content, "Photosynthesis") {
		t.Errorf("knowledge = %+v", k)
	}
}

func TestFeedValidation(t *testing.T) {
	ts := newTestServer(t, model.Config{})

	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Content: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	n := decodeNotice(t, rec)
	if n.Notice != "Please paste some content first!" || n.Level != "error" {
		t.Errorf("notice = %+v", n)
	}

	req := httptest.NewRequest(http.MethodPost, "/profiles/Ana/7/knowledge", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/profiles/%20/7/logs", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank profile status = %d", rec.Code)
	}
}

func TestOversizedJSONBody(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	huge := strings.Repeat("a", ingest.MaxFileSize+bodyOverhead)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"feed", "/profiles/Ana/7/knowledge", feedRequest{Content: huge}},
		{"chat", "/profiles/Ana/7/chat", chatRequest{Message: huge}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusRequestEntityTooLarge {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
			}
			if n := decodeNotice(t, rec); n.Level != "error" {
				t.Errorf("notice = %+v", n)
			}
		})
	}

	logs, err := ts.store.ListLogs(model.Profile{Name: "Ana", Grade: "7"})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Errorf("rejected bodies were logged: %+v", logs)
	}
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	path := "/profiles/Ana/7/knowledge/upload"

	tests := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{"text file", "notes.md", []byte("1. Capital of France?\nA. Paris\nB. Rome\n"), http.StatusOK},
		{"wrong extension", "setup.exe", []byte("MZ"), http.StatusUnsupportedMediaType},
		{"binary content", "photo.txt", []byte("\x89PNG\r\n\x1a\n...."), http.StatusUnsupportedMediaType},
		{"too large", "big.txt", bytes.Repeat([]byte("a"), ingest.MaxFileSize+1), http.StatusRequestEntityTooLarge},
		{"empty", "blank.txt", []byte("\n\n  "), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, path, tt.filename, tt.content)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	// Rejected uploads leave the first upload in place.
	rec := ts.do(t, http.MethodGet, "/profiles/Ana/7/knowledge", nil)
	var k model.Knowledge
	json.NewDecoder(rec.Body).Decode(&k)
	if k.Subject != "history" || !strings.Contains(k.Content, "Paris") {
		t.Errorf("knowledge after rejected uploads = %+v", k)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, model.Config{})

	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d", rec.Code)
	}
	if n := decodeNotice(t, rec); n.Notice != "Please type a message first." {
		t.Errorf("notice = %q", n.Notice)
	}

	ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Content: reviewer})
	rec = ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: "what is photosynthesis"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d", rec.Code)
	}
	var r reply.Reply
	json.NewDecoder(rec.Body).Decode(&r)
	if r.Kind != reply.KindRelevant || !strings.Contains(r.Text, "Photosynthesis converts") {
		t.Errorf("reply = %+v", r)
	}
}

func TestChatThinkDelayCancelled(t *testing.T) {
	ts := newTestServer(t, model.Config{ThinkDelay: time.Hour})
	ts.h.sleep = func(time.Duration) <-chan time.Time { return nil }

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(chatRequest{Message: "hello there"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/profiles/Ana/7/chat", &buf).WithContext(ctx)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Body.Len() != 0 {
		t.Errorf("cancelled request got a body: %s", rec.Body.String())
	}
}

func TestChatThinkDelay(t *testing.T) {
	ts := newTestServer(t, model.Config{ThinkDelay: time.Second, ThinkJitter: time.Second})
	var waited time.Duration
	ts.h.sleep = func(d time.Duration) <-chan time.Time {
		waited = d
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: "hello there"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if waited < time.Second || waited >= 2*time.Second {
		t.Errorf("think delay = %v, want [1s, 2s)", waited)
	}
}

func TestChatRateLimit(t *testing.T) {
	ts := newTestServer(t, model.Config{ChatRateLimit: 2})
	codes := make([]int, 3)
	for i := range codes {
		codes[i] = ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: "hello"}).Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v", codes)
	}
}

func TestAnswerAndCorrect(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Content: reviewer})

	zero, one, five := 0, 1, 5
	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/questions/1/answer", optionRequest{Option: &zero})
	var res assistant.AnswerResult
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Verdict != model.VerdictUngraded {
		t.Errorf("verdict = %q", res.Verdict)
	}

	if rec := ts.do(t, http.MethodPut, "/profiles/Ana/7/questions/1/correct", optionRequest{Option: &zero}); rec.Code != http.StatusNoContent {
		t.Fatalf("set correct status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/profiles/Ana/7/questions/1/answer", optionRequest{Option: &one})
	json.NewDecoder(rec.Body).Decode(&res)
	if res.Verdict != model.VerdictIncorrect {
		t.Errorf("verdict = %q", res.Verdict)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"choice out of range", "/profiles/Ana/7/questions/1/answer", optionRequest{Option: &five}, http.StatusBadRequest},
		{"missing option", "/profiles/Ana/7/questions/1/answer", optionRequest{}, http.StatusBadRequest},
		{"unknown question", "/profiles/Ana/7/questions/4/answer", optionRequest{Option: &zero}, http.StatusNotFound},
		{"bad number", "/profiles/Ana/7/questions/x/answer", optionRequest{Option: &zero}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: "first"})
	ts.do(t, http.MethodPost, "/profiles/Ana/7/chat", chatRequest{Message: "second"})

	rec := ts.do(t, http.MethodGet, "/profiles/Ana/7/logs", nil)
	var logs []model.ActivityLogEntry
	json.NewDecoder(rec.Body).Decode(&logs)
	if len(logs) != 2 {
		t.Fatalf("got %d logs", len(logs))
	}

	path := "/profiles/Ana/7/logs/" + strconv.FormatInt(logs[0].ID, 10)
	if rec := ts.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodDelete, "/profiles/Ana/7/logs", nil)
	if !strings.Contains(rec.Body.String(), `"deleted":1`) {
		t.Errorf("clear body = %s", rec.Body.String())
	}
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Content: reviewer})

	rec := ts.do(t, http.MethodGet, "/profiles/Ana/7/export", nil)
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "reviewer-Ana-7.json") {
		t.Errorf("Content-Disposition = %q", got)
	}
	var exp model.ProfileExport
	json.NewDecoder(rec.Body).Decode(&exp)
	if exp.Knowledge == nil || len(exp.Questions) != 1 || len(exp.Logs) != 1 {
		t.Errorf("export = %+v", exp)
	}
}

func TestStorageFailureReturnsAttempt(t *testing.T) {
	ts := newTestServer(t, model.Config{})
	ts.store.Close()

	rec := ts.do(t, http.MethodPost, "/profiles/Ana/7/knowledge", feedRequest{Content: reviewer})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Could not save your data") || !strings.Contains(body, "What do plants need") {
		t.Errorf("body = %s", body)
	}
}
