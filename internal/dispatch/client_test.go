package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method      string
	ContentType string
	Order       WorkOrder
}

// newReceiver starts a test receiver that records each request and answers
// with the given status and body.
func newReceiver(t *testing.T, status int, body string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var order WorkOrder
		_ = json.Unmarshal(raw, &order)

		mu.Lock()
		got = append(got, capturedRequest{Method: r.Method, ContentType: r.Header.Get("Content-Type"), Order: order})
		mu.Unlock()

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), got...)
	}
}

func newTestClient(t *testing.T, url string, ids ...string) *HTTPClient {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"yardcam_0001"}
	}
	c, err := NewHTTPClient(Config{
		URL:              url,
		Timeout:          2 * time.Second,
		ModelProcessCode: "checking_camera_work",
		FromSystem:       "yardcam",
	}, WithOrderIDs(NewFixedGenerator(ids...)))
	require.NoError(t, err)
	return c
}

func TestSend_Success(t *testing.T) {
	srv, requests := newReceiver(t, http.StatusOK, `{"status":"success","message":"queued"}`)
	c := newTestClient(t, srv.URL)

	res, err := c.Send(context.Background(), "S1", "E1")
	require.NoError(t, err)
	assert.Equal(t, "yardcam_0001", res.OrderID)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "success", res.Code)
	assert.Equal(t, "queued", res.Message)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "application/json", reqs[0].ContentType)
	assert.Equal(t, "checking_camera_work", reqs[0].Order.ModelProcessCode)
	assert.Equal(t, "yardcam", reqs[0].Order.FromSystem)
	assert.Equal(t, "yardcam_0001", reqs[0].Order.OrderID)
	require.Len(t, reqs[0].Order.TaskOrderDetail, 1)
	assert.Equal(t, "S1,E1", reqs[0].Order.TaskOrderDetail[0].TaskPath)
}

func TestSend_ReceiverEchoReply(t *testing.T) {
	// The receiver answers with the order it got echoed under received_data.
	body := `{"status": "success", "received_data": {"modelProcessCode": "checking_camera_work", ` +
		`"fromSystem": "yardcam", "orderId": "yardcam_0001", "taskOrderDetail": [{"taskPath": "S1,E1"}]}}`
	srv, _ := newReceiver(t, http.StatusOK, body)
	c := newTestClient(t, srv.URL)

	res, err := c.Send(context.Background(), "S1", "E1")
	require.NoError(t, err)
	assert.Equal(t, "success", res.Code)
	assert.Empty(t, res.Message)
}

func TestSend_ConfiguredSuccessField(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"string code", `{"code":"1000","desc":"ok"}`},
		{"numeric code", `{"code":1000,"message":"ok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newReceiver(t, http.StatusOK, tt.body)
			c, err := NewHTTPClient(Config{URL: srv.URL, SuccessField: "code", SuccessValue: "1000"},
				WithOrderIDs(NewFixedGenerator("o-1")))
			require.NoError(t, err)

			res, err := c.Send(context.Background(), "S1", "E1")
			require.NoError(t, err)
			assert.Equal(t, "1000", res.Code)
			assert.Equal(t, "ok", res.Message)
		})
	}

	// The default shape does not count under a different field.
	srv, _ := newReceiver(t, http.StatusOK, `{"status":"success"}`)
	c, err := NewHTTPClient(Config{URL: srv.URL, SuccessField: "code", SuccessValue: "1000"})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "S1", "E1")
	assert.True(t, IsRejected(err))
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantCode string
		wantMsg  string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", wantKind: KindStatus, wantMsg: "boom"},
		{name: "not found", status: http.StatusNotFound, body: "", wantKind: KindStatus},
		{name: "rejected", status: http.StatusOK, body: `{"status":"busy","desc":"task path busy"}`, wantKind: KindRejected, wantCode: "busy", wantMsg: "task path busy"},
		{name: "missing status", status: http.StatusOK, body: `{"status":"success"}`, wantKind: KindRejected},
		{name: "null status", status: http.StatusOK, body: `{"status":null}`, wantKind: KindRejected},
		{name: "malformed body", status: http.StatusOK, body: `not json`, wantKind: KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newReceiver(t, tt.status, tt.body)
			c := newTestClient(t, srv.URL)

			res, err := c.Send(context.Background(), "S1", "E1")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))

			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "yardcam_0001", de.OrderID)
			assert.Equal(t, tt.wantCode, de.Code)
			assert.Equal(t, tt.status, de.StatusCode)

			// The partial result carries the same details.
			assert.Equal(t, "yardcam_0001", res.OrderID)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.wantCode, res.Code)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Positive(t, res.Duration)
		})
	}
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := NewHTTPClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond},
		WithOrderIDs(NewFixedGenerator("o-1")))
	require.NoError(t, err)

	start := time.Now()
	res, err := c.Send(context.Background(), "S1", "E1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.True(t, IsTimeout(err), "expected timeout, got %v", err)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Zero(t, res.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSend_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.Send(context.Background(), "S1", "E1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestSend_CancelledContext(t *testing.T) {
	srv, requests := newReceiver(t, http.StatusOK, `{"status":"success"}`)
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Send(ctx, "S1", "E1")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Empty(t, requests())
}

func TestSend_UniqueOrderIDs(t *testing.T) {
	srv, requests := newReceiver(t, http.StatusOK, `{"status":"success"}`)
	c, err := NewHTTPClient(Config{URL: srv.URL, OrderPrefix: "yard"})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := c.Send(context.Background(), "S1", "E1")
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for _, r := range requests() {
		assert.True(t, strings.HasPrefix(r.Order.OrderID, "yard_"))
		assert.False(t, seen[r.Order.OrderID], "duplicate order id %s", r.Order.OrderID)
		seen[r.Order.OrderID] = true
	}
	assert.Len(t, seen, 20)
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	require.Error(t, err)

	c, err := NewHTTPClient(Config{URL: "http://example.invalid"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
	assert.Equal(t, DefaultSuccessField, c.cfg.SuccessField)
	assert.Equal(t, DefaultSuccessValue, c.cfg.SuccessValue)
}

func TestWorkOrder_Golden(t *testing.T) {
	c := newTestClient(t, "http://example.invalid")
	order := c.BuildOrder("S1", "E1")

	data, err := json.MarshalIndent(order, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "work_order", data)
}

func TestFixedGenerator_Exhausted(t *testing.T) {
	g := NewFixedGenerator("a")
	assert.Equal(t, "a", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindRejected, OrderID: "o-1", StatusCode: 200, Code: "2001", Message: "busy"}
	assert.Equal(t, "dispatch rejected (order=o-1): status 200: code 2001: busy", err.Error())
	assert.True(t, IsRejected(err))
	assert.False(t, IsTransport(err))
	assert.Equal(t, ErrorKind(""), KindOf(io.EOF))
}
