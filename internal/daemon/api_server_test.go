package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"photopipe/internal/daemon"
	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
	"photopipe/internal/testsupport"
)

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c apiClient) do(method, path, body string) (int, envelope) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (c apiClient) task(env envelope) pipeline.Task {
	c.t.Helper()
	var task pipeline.Task
	if err := json.Unmarshal(env.Data, &task); err != nil {
		c.t.Fatalf("decode task: %v", err)
	}
	return task
}

func newAPI(t *testing.T, token string, m *metrics.Metrics) apiClient {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	d, _ := newDaemon(t, cfg, daemon.Options{Metrics: m})
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return apiClient{t: t, base: srv.URL, token: token}
}

func TestAPITaskLifecycle(t *testing.T) {
	api := newAPI(t, "", nil)
	location := testsupport.NewTaskLocation(t)

	code, env := api.do(http.MethodPost, "/api/tasks", `{"location":"`+location+`","requirements":{"needs_color_checker":false}}`)
	if code != http.StatusCreated || env.Status != "success" || env.Message != "Added task: 1" {
		t.Fatalf("add: %d %#v", code, env)
	}
	added := api.task(env)
	if added.ID != 1 || added.Requirements.NeedsColorChecker || !added.Requirements.NeedsRawImages {
		t.Fatalf("unexpected task %#v", added)
	}

	code, env = api.do(http.MethodPut, "/api/tasks/1", `{"step":2}`)
	if code != http.StatusOK {
		t.Fatalf("update: %d %#v", code, env)
	}
	if updated := api.task(env); updated.Step != pipeline.StepColorCorrection || updated.Location != location {
		t.Fatalf("update should merge into the stored task, got %#v", updated)
	}

	code, env = api.do(http.MethodPost, "/api/tasks/1/restart", "")
	if code != http.StatusOK || env.Message != "Requested to process task" {
		t.Fatalf("restart: %d %#v", code, env)
	}
	_, env = api.do(http.MethodGet, "/api/tasks/1", "")
	if got := api.task(env); got.Step != pipeline.StepNotStarted {
		t.Fatalf("expected restarted task, got %#v", got)
	}

	_, env = api.do(http.MethodGet, "/api/tasks", "")
	var tasks []pipeline.Task
	if err := json.Unmarshal(env.Data, &tasks); err != nil || len(tasks) != 1 {
		t.Fatalf("list: %v %s", err, env.Data)
	}

	code, env = api.do(http.MethodGet, "/api/tasks/next-id", "")
	if code != http.StatusOK || string(env.Data) != "2" {
		t.Fatalf("next id: %d %#v", code, env)
	}

	code, _ = api.do(http.MethodPost, "/api/tasks/restart", "")
	if code != http.StatusOK {
		t.Fatalf("restart all: %d", code)
	}

	code, env = api.do(http.MethodDelete, "/api/tasks/1", "")
	if code != http.StatusOK || string(env.Data) != "1" {
		t.Fatalf("delete: %d %#v", code, env)
	}
	code, env = api.do(http.MethodGet, "/api/tasks/1", "")
	if code != http.StatusNotFound || env.Status != "error" {
		t.Fatalf("get deleted: %d %#v", code, env)
	}
}

func TestAPIRejectsBadRequests(t *testing.T) {
	api := newAPI(t, "", nil)
	cases := map[string]struct {
		method string
		path   string
		body   string
		code   int
	}{
		"malformed body":    {http.MethodPost, "/api/tasks", "{", http.StatusBadRequest},
		"relative location": {http.MethodPost, "/api/tasks", `{"location":"scan"}`, http.StatusBadRequest},
		"bad id":            {http.MethodGet, "/api/tasks/abc", "", http.StatusBadRequest},
		"missing task":      {http.MethodGet, "/api/tasks/42", "", http.StatusNotFound},
		"update missing":    {http.MethodPut, "/api/tasks/42", `{"step":1}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			code, env := api.do(tc.method, tc.path, tc.body)
			if code != tc.code || env.Status != "error" || env.Message == "" {
				t.Fatalf("expected %d error envelope, got %d %#v", tc.code, code, env)
			}
		})
	}
}

func TestAPIAuth(t *testing.T) {
	api := newAPI(t, "secret", metrics.New())

	code, _ := api.do(http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("authorized status: %d", code)
	}

	anonymous := api
	anonymous.token = ""
	code, env := anonymous.do(http.MethodGet, "/api/status", "")
	if code != http.StatusUnauthorized || env.Message != "unauthorized" {
		t.Fatalf("expected 401, got %d %#v", code, env)
	}
	anonymous.token = "wrong"
	if code, _ := anonymous.do(http.MethodGet, "/api/tasks", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", code)
	}

	resp, err := http.Get(api.base + "/about")
	if err != nil {
		t.Fatalf("about: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != daemon.AboutText {
		t.Fatalf("about: %d %q", resp.StatusCode, body)
	}
}

func TestAPIMetrics(t *testing.T) {
	api := newAPI(t, "", metrics.New())
	req, _ := http.NewRequest(http.MethodGet, api.base+"/metrics", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "photopipe_tasks") {
		t.Fatalf("expected task gauge in scrape:\n%s", body)
	}
}

func TestServeAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, daemon.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := d.ServeAPI(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping listener test: %v", err)
		}
		t.Fatalf("ServeAPI: %v", err)
	}
	if _, err := d.ServeAPI(ctx); err == nil {
		t.Fatal("expected second ServeAPI to fail")
	}
	resp, err := http.Get("http://" + addr + "/about")
	if err != nil {
		t.Fatalf("about: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("about: %d", resp.StatusCode)
	}
}
