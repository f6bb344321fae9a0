package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/top10-publisher/internal/publish"
)

const testToken = "tok-123"

// server mimics the subset of the REST API the client uses.
type server struct {
	t *testing.T

	mu       sync.Mutex
	datasets int
	// bareDatasets omits the pagination block from datasource pages.
	bareDatasets bool
	pages        int
	uploaded     []byte
	contentType  string
	requestID    string
	actions      []publish.Action
	jobBodies    []string
	polls        int
	signedOut    bool
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	base := "/api/3.19"

	mux.HandleFunc("POST "+base+"/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if !assert.NoError(s.t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if req.Credentials.TokenValue != "secret" {
			http.Error(w, `{"error":{"code":"401001"}}`, http.StatusUnauthorized)
			return
		}
		assert.Equal(s.t, "ci", req.Credentials.TokenName)
		assert.Equal(s.t, "marketing", req.Credentials.Site.ContentURL)
		fmt.Fprintf(w, `{"credentials":{"token":%q,"site":{"id":"site-1","contentUrl":"marketing"}}}`, testToken)
	})

	mux.HandleFunc("POST "+base+"/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		s.mu.Lock()
		s.signedOut = true
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET "+base+"/sites/site-1/datasources", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
		assert.Equal(s.t, 100, size)
		s.mu.Lock()
		s.pages++
		s.mu.Unlock()

		var items []map[string]any
		for i := (page - 1) * size; i < page*size && i < s.datasets; i++ {
			items = append(items, map[string]any{
				"id":      fmt.Sprintf("ds-%d", i),
				"name":    fmt.Sprintf("Dataset %d", i),
				"project": map[string]string{"name": "Default"},
			})
		}
		body := map[string]any{
			"pagination": map[string]string{
				"pageNumber":     strconv.Itoa(page),
				"pageSize":       strconv.Itoa(size),
				"totalAvailable": strconv.Itoa(s.datasets),
			},
			"datasources": map[string]any{"datasource": items},
		}
		if s.bareDatasets {
			delete(body, "pagination")
		}
		json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("POST "+base+"/sites/site-1/fileUploads", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		fmt.Fprint(w, `{"fileUpload":{"uploadSessionId":"up-1","fileSize":"0"}}`)
	})

	mux.HandleFunc("PUT "+base+"/sites/site-1/fileUploads/up-1", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		data, contentType, err := readUploadPart(r)
		if !assert.NoError(s.t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.uploaded = append(s.uploaded, data...)
		s.contentType = contentType
		s.mu.Unlock()
		fmt.Fprint(w, `{"fileUpload":{"uploadSessionId":"up-1"}}`)
	})

	mux.HandleFunc("PATCH "+base+"/sites/site-1/datasources/ds-7/data", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		assert.Equal(s.t, "up-1", r.URL.Query().Get("uploadSessionId"))
		var req updateRequest
		if !assert.NoError(s.t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.requestID = r.Header.Get("RequestID")
		s.actions = req.Actions
		s.mu.Unlock()
		fmt.Fprint(w, `{"job":{"id":"job-9","mode":"Asynchronous","createdAt":"2024-01-01T00:00:00Z"}}`)
	})

	mux.HandleFunc("GET "+base+"/sites/site-1/jobs/job-9", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(w, r) {
			return
		}
		s.mu.Lock()
		body := s.jobBodies[min(s.polls, len(s.jobBodies)-1)]
		s.polls++
		s.mu.Unlock()
		fmt.Fprint(w, body)
	})

	return mux
}

// readUploadPart checks the multipart/mixed layout of an append request and
// returns the file part.
func readUploadPart(r *http.Request) ([]byte, string, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", err
	}
	if mediaType != "multipart/mixed" {
		return nil, "", fmt.Errorf("unexpected media type %s", mediaType)
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	first, err := mr.NextPart()
	if err != nil {
		return nil, "", err
	}
	if first.FormName() != "request_payload" {
		return nil, "", fmt.Errorf("first part is %q", first.FormName())
	}
	file, err := mr.NextPart()
	if err != nil {
		return nil, "", err
	}
	if file.FormName() != "tableau_file" {
		return nil, "", fmt.Errorf("second part is %q", file.FormName())
	}
	data, err := io.ReadAll(file)
	return data, file.Header.Get("Content-Type"), err
}

func (s *server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get(AuthHeader) != testToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func newTestClient(t *testing.T, srv *server, secret string) *Client {
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(publish.Config{
		ServerURL:  ts.URL + "/",
		Site:       "marketing",
		TokenName:  "ci",
		TokenValue: secret,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(publish.Config{ServerURL: "not a url"})
	assert.Error(t, err)

	_, err = NewClient(publish.Config{})
	assert.Error(t, err)
}

func TestSignInRejected(t *testing.T) {
	c := newTestClient(t, &server{t: t}, "wrong")

	_, err := c.SignIn(context.Background())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "401001")
}

func TestListDatasetsPaginates(t *testing.T) {
	srv := &server{t: t, datasets: 150}
	c := newTestClient(t, srv, "secret")

	sess, err := c.SignIn(context.Background())
	require.NoError(t, err)

	got, err := sess.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 150)
	assert.Equal(t, "Dataset 149", got[149].Name)
	assert.Equal(t, "Default", got[0].Project)

	require.NoError(t, sess.SignOut(context.Background()))
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.True(t, srv.signedOut)
}

func TestListDatasetsWithoutPagination(t *testing.T) {
	tests := []struct {
		datasets  int
		wantPages int
	}{
		{0, 1},
		{150, 2},
		{200, 3},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.datasets), func(t *testing.T) {
			srv := &server{t: t, datasets: tt.datasets, bareDatasets: true}
			c := newTestClient(t, srv, "secret")

			sess, err := c.SignIn(context.Background())
			require.NoError(t, err)

			got, err := sess.ListDatasets(context.Background())
			require.NoError(t, err)
			assert.Len(t, got, tt.datasets)

			srv.mu.Lock()
			defer srv.mu.Unlock()
			assert.Equal(t, tt.wantPages, srv.pages)
		})
	}
}

func TestPublishFlowOverHTTP(t *testing.T) {
	srv := &server{
		t:        t,
		datasets: 10,
		jobBodies: []string{
			`{"job":{"id":"job-9","startedAt":"2024-01-01T00:00:01Z"}}`,
			`{"job":{"id":"job-9","finishCode":""}}`,
			`{"job":{"id":"job-9","finishCode":"0","completedAt":"2024-01-01T00:00:09Z","statusNotes":{"statusNote":[{"type":"CountOfRowsInserted","text":"10 rows"}]}}}`,
		},
	}
	c := newTestClient(t, srv, "secret")
	ctx := context.Background()

	sess, err := c.SignIn(ctx)
	require.NoError(t, err)

	coord := publish.NewCoordinator(sess)
	ds, err := coord.Resolve(ctx, "Dataset 7")
	require.NoError(t, err)
	assert.Equal(t, "ds-7", ds.ID)

	up := publish.NewUploader(sess, 3)
	payload := []byte("PAR1-extract-bytes-PAR1")
	id, n, err := up.Upload(ctx, bytes.NewReader(payload), publish.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "up-1", id)
	assert.Equal(t, int64(len(payload)), n)
	srv.mu.Lock()
	assert.Equal(t, payload, srv.uploaded)
	assert.Equal(t, publish.ContentType, srv.contentType)
	srv.mu.Unlock()

	actions := publish.DefaultActions(publish.ActionReplace, "Extract", "Rankings")
	jobID, err := coord.Submit(ctx, ds, id, actions, "update_20240101_000000_abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "job-9", jobID)
	srv.mu.Lock()
	assert.Equal(t, "update_20240101_000000_abcd1234", srv.requestID)
	assert.Equal(t, actions, srv.actions)
	srv.mu.Unlock()

	out, err := publish.NewTracker(sess, time.Millisecond).Wait(ctx, jobID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, publish.StatusSucceeded, out.Status)
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, "10 rows", out.Notes)
	require.NotNil(t, out.CompletedAt)
	assert.Equal(t, 9, out.CompletedAt.Second())
}

func TestJobFinishCodeAsNumber(t *testing.T) {
	srv := &server{t: t, jobBodies: []string{`{"job":{"id":"job-9","finishCode":1}}`}}
	c := newTestClient(t, srv, "secret")

	sess, err := c.SignIn(context.Background())
	require.NoError(t, err)

	job, err := sess.GetJob(context.Background(), "job-9")
	require.NoError(t, err)
	require.NotNil(t, job.FinishCode)
	assert.Equal(t, 1, *job.FinishCode)
	assert.Equal(t, publish.StatusFailed, publish.StatusOf(job))
}

func TestFinishCodeDecoding(t *testing.T) {
	cases := map[string]struct {
		body string
		set  bool
		code int
	}{
		"missing": {`{}`, false, 0},
		"null":    {`{"finishCode":null}`, false, 0},
		"empty":   {`{"finishCode":""}`, false, 0},
		"string":  {`{"finishCode":"2"}`, true, 2},
		"number":  {`{"finishCode":0}`, true, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var j jobPayload
			require.NoError(t, json.Unmarshal([]byte(tc.body), &j))
			assert.Equal(t, tc.set, j.FinishCode.set)
			assert.Equal(t, tc.code, j.FinishCode.code)
		})
	}

	var j jobPayload
	assert.Error(t, json.Unmarshal([]byte(`{"finishCode":"done"}`), &j))
}
