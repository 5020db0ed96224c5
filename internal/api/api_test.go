package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/linestore/internal/checksum"
	"github.com/starford/linestore/internal/lineservice"
	"github.com/starford/linestore/internal/testutil"
)

// testEnv sets up a temp root, journal, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (http.Handler, string) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (http.Handler, string) {
	t.Helper()

	root, store := testutil.TestRoot(t)
	svc := testutil.TestService(t, store, testutil.TestJournal(t))
	return NewRouter(svc, authEnabled, token, sseHandler), root
}

func do(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func writeRoot(t *testing.T, root, name, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readRoot(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestCreateAndGetFile(t *testing.T) {
	router, _ := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/files", map[string]string{"path": "logs/a.txt", "content": "one\ntwo\n"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/files/logs/a.txt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var d FileDetail
	_ = json.Unmarshal(w.Body.Bytes(), &d)
	if d.Content != "one\ntwo\n" || d.Lines != 2 {
		t.Errorf("detail = %+v", d)
	}
	if got := w.Header().Get("ETag"); got != `"`+checksum.Sum([]byte("one\ntwo\n"))+`"` {
		t.Errorf("ETag = %s", got)
	}

	w = do(t, router, http.MethodPost, "/files", map[string]string{"path": "logs/a.txt"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateFile_Validation(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/files", map[string]string{"content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", rec.Code)
	}
}

func TestPutWithOptimisticLocking(t *testing.T) {
	router, root := testEnv(t, "")
	writeRoot(t, root, "lock.txt", "v1\n")

	body, _ := json.Marshal(map[string]string{"content": "v2\n"})
	req := httptest.NewRequest(http.MethodPut, "/files/lock.txt", bytes.NewReader(body))
	req.Header.Set("If-Match", `"wrong"`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("stale If-Match = %d, want 409", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/files/lock.txt", bytes.NewReader(body))
	req.Header.Set("If-Match", `"`+checksum.Sum([]byte("v1\n"))+`"`)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("matching If-Match = %d, body = %s", w.Code, w.Body.String())
	}
	if got := readRoot(t, root, "lock.txt"); got != "v2\n" {
		t.Errorf("body = %q", got)
	}
}

func TestLineEndpoints(t *testing.T) {
	router, root := testEnv(t, "")
	writeRoot(t, root, "f.txt", "a\nb\nc")

	w := do(t, router, http.MethodGet, "/lines/count/f.txt", nil)
	var c CountResponse
	_ = json.Unmarshal(w.Body.Bytes(), &c)
	if w.Code != http.StatusOK || c.Terminators != 2 || c.Lines != 3 {
		t.Errorf("count = %d %+v", w.Code, c)
	}

	w = do(t, router, http.MethodGet, "/lines/line/f.txt?n=1", nil)
	var l LineResponse
	_ = json.Unmarshal(w.Body.Bytes(), &l)
	if w.Code != http.StatusOK || l.Content != "b" {
		t.Errorf("read line = %d %+v", w.Code, l)
	}

	w = do(t, router, http.MethodGet, "/lines/range/f.txt?first=1&last=99", nil)
	var rr RangeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &rr)
	if w.Code != http.StatusOK || rr.Content != "b\nc" {
		t.Errorf("range = %d %+v", w.Code, rr)
	}

	w = do(t, router, http.MethodGet, "/lines/search/f.txt?q=c", nil)
	var sr SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &sr)
	if w.Code != http.StatusOK || sr.Line != 2 {
		t.Errorf("search = %d %+v", w.Code, sr)
	}

	zero := 0
	w = do(t, router, http.MethodPut, "/lines/line/f.txt", LineRequest{Line: &zero, Content: "A"})
	if w.Code != http.StatusOK {
		t.Fatalf("replace = %d %s", w.Code, w.Body.String())
	}
	w = do(t, router, http.MethodPost, "/lines/line/f.txt", LineRequest{Line: &zero, Content: "top"})
	if w.Code != http.StatusOK {
		t.Fatalf("insert = %d %s", w.Code, w.Body.String())
	}
	if got := readRoot(t, root, "f.txt"); got != "top\nA\nb\nc\n" {
		t.Errorf("after insert = %q", got)
	}

	w = do(t, router, http.MethodDelete, "/lines/line/f.txt?n=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete line = %d", w.Code)
	}
	w = do(t, router, http.MethodDelete, "/lines/range/f.txt?first=1&last=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete range = %d", w.Code)
	}
	if got := readRoot(t, root, "f.txt"); got != "A\n" {
		t.Errorf("after deletes = %q", got)
	}
}

func TestLineEndpoints_Errors(t *testing.T) {
	router, root := testEnv(t, "")
	writeRoot(t, root, "f.txt", "a\n")

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"missing file", http.MethodGet, "/lines/line/nope.txt?n=0", nil, http.StatusNotFound},
		{"out of range", http.MethodGet, "/lines/line/f.txt?n=5", nil, http.StatusUnprocessableEntity},
		{"bad ordinal", http.MethodGet, "/lines/line/f.txt?n=x", nil, http.StatusBadRequest},
		{"negative ordinal", http.MethodGet, "/lines/line/f.txt?n=-1", nil, http.StatusBadRequest},
		{"no match", http.MethodGet, "/lines/search/f.txt?q=zz", nil, http.StatusNotFound},
		{"search without q", http.MethodGet, "/lines/search/f.txt", nil, http.StatusBadRequest},
		{"range first past end", http.MethodDelete, "/lines/range/f.txt?first=3&last=4", nil, http.StatusUnprocessableEntity},
		{"replace without line", http.MethodPut, "/lines/line/f.txt", map[string]string{"content": "x"}, http.StatusBadRequest},
		{"replace with newline", http.MethodPut, "/lines/line/f.txt", map[string]any{"line": 0, "content": "x\ny"}, http.StatusBadRequest},
		{"temp path rejected", http.MethodGet, "/files/.~lines.f.txt.tmp", nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, tc.method, tc.target, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
	if got := readRoot(t, root, "f.txt"); got != "a\n" {
		t.Errorf("failed requests changed the file: %q", got)
	}
}

func TestAppendClearDelete(t *testing.T) {
	router, root := testEnv(t, "")
	writeRoot(t, root, "f.txt", "a")

	if w := do(t, router, http.MethodPost, "/append/f.txt", map[string]string{"content": "b\n"}); w.Code != http.StatusOK {
		t.Fatalf("append = %d", w.Code)
	}
	if got := readRoot(t, root, "f.txt"); got != "ab\n" {
		t.Errorf("after append = %q", got)
	}
	if w := do(t, router, http.MethodPost, "/clear/f.txt", nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	if got := readRoot(t, root, "f.txt"); got != "" {
		t.Errorf("after clear = %q", got)
	}
	if w := do(t, router, http.MethodDelete, "/files/f.txt", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/files/f.txt", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestOpsAndJournal(t *testing.T) {
	router, root := testEnv(t, "")
	writeRoot(t, root, "a.txt", "1\n")

	if w := do(t, router, http.MethodPost, "/ops/backup", PathRequest{Path: "a.txt"}); w.Code != http.StatusOK {
		t.Fatalf("backup = %d %s", w.Code, w.Body.String())
	}
	if got := readRoot(t, root, "a.txt.bak"); got != "1\n" {
		t.Errorf("backup body = %q", got)
	}
	if w := do(t, router, http.MethodPost, "/ops/copy", PathPairRequest{From: "a.txt", To: "b.txt"}); w.Code != http.StatusOK {
		t.Fatalf("copy = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/ops/rename", PathPairRequest{From: "a.txt", To: "b.txt"}); w.Code != http.StatusConflict {
		t.Errorf("clobbering rename = %d, want 409", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/ops/rename", PathPairRequest{From: "a.txt", To: "a.txt"}); w.Code != http.StatusBadRequest {
		t.Errorf("self rename = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/ops/mkdir", PathRequest{Path: "d/e"}); w.Code != http.StatusNoContent {
		t.Errorf("mkdir = %d", w.Code)
	}

	w := do(t, router, http.MethodGet, "/files", nil)
	var tree TreeResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if w.Code != http.StatusOK || len(tree.Entries) < 4 {
		t.Errorf("tree = %d %+v", w.Code, tree)
	}

	w = do(t, router, http.MethodGet, "/journal?limit=10", nil)
	var jr JournalResponse
	_ = json.Unmarshal(w.Body.Bytes(), &jr)
	if w.Code != http.StatusOK || jr.Total != 2 {
		t.Fatalf("journal = %d %+v", w.Code, jr)
	}
	if jr.Entries[0].Op != "copy" || jr.Entries[0].Source != lineservice.SourceAPI {
		t.Errorf("latest entry = %+v", jr.Entries[0])
	}

	if w := do(t, router, http.MethodPost, "/ops/purge", PathRequest{Path: "d"}); w.Code != http.StatusNoContent {
		t.Errorf("purge = %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(root, "d")); !os.IsNotExist(err) {
		t.Errorf("purged dir still present: %v", err)
	}
}

func TestUsage(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/usage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("usage = %d", w.Code)
	}
	var u UsageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &u)
	if u.TotalBytes == 0 {
		t.Errorf("total bytes = 0")
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router, root := testEnv(t, "secret123")
	writeRoot(t, root, "f.txt", "a\n")
	req := httptest.NewRequest(http.MethodGet, "/files/f.txt", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed get = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	w := do(t, router, http.MethodGet, "/files", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router, _ := testEnv(t, "secret123")
	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router, _ := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/files", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	// Minimal SSE handler stub: writes headers and blocks until context done.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	router, _ := testEnvWithSSE(t, true, "tok", sseStub())
	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	router, _ := testEnvWithSSE(t, true, "tok", sseStub())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
