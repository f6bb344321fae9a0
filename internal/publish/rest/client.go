// Package rest implements publish.Service against the analytics server's
// REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/publish"
)

// AuthHeader carries the session token on every authenticated request.
const AuthHeader = "X-Tableau-Auth"

// pageSize is the dataset listing page size.
const pageSize = 100

// Client opens authenticated sessions against one server and site.
type Client struct {
	cfg    publish.Config
	base   string
	client *http.Client
	log    *slog.Logger
}

// NewClient creates a REST client. cfg is copied and defaults applied.
func NewClient(cfg publish.Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.ServerURL)
	}
	return &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.ServerURL, "/") + "/api/" + cfg.APIVersion,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		log:    logging.Component("rest"),
	}, nil
}

type signInRequest struct {
	Credentials struct {
		TokenName  string `json:"personalAccessTokenName"`
		TokenValue string `json:"personalAccessTokenSecret"`
		Site       struct {
			ContentURL string `json:"contentUrl"`
		} `json:"site"`
	} `json:"credentials"`
}

type signInResponse struct {
	Credentials struct {
		Token string `json:"token"`
		Site  struct {
			ID string `json:"id"`
		} `json:"site"`
	} `json:"credentials"`
}

// SignIn authenticates with the configured access token.
func (c *Client) SignIn(ctx context.Context) (publish.Session, error) {
	var req signInRequest
	req.Credentials.TokenName = c.cfg.TokenName
	req.Credentials.TokenValue = c.cfg.TokenValue
	req.Credentials.Site.ContentURL = c.cfg.Site

	var resp signInResponse
	if err := c.doJSON(ctx, http.MethodPost, c.base+"/auth/signin", "", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if resp.Credentials.Token == "" || resp.Credentials.Site.ID == "" {
		return nil, fmt.Errorf("sign in: response carries no token or site id")
	}
	c.log.Info("signed in", "server", c.cfg.ServerURL, "site", c.cfg.Site)
	return &session{
		c:      c,
		token:  resp.Credentials.Token,
		siteID: resp.Credentials.Site.ID,
	}, nil
}

// session is one authenticated scope.
type session struct {
	c      *Client
	token  string
	siteID string
}

func (s *session) siteURL(parts ...string) string {
	return s.c.base + "/sites/" + url.PathEscape(s.siteID) + "/" + strings.Join(parts, "/")
}

func (s *session) SignOut(ctx context.Context) error {
	if err := s.c.doJSON(ctx, http.MethodPost, s.c.base+"/auth/signout", s.token, nil, nil, nil); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	s.c.log.Debug("signed out")
	return nil
}

type pagination struct {
	PageNumber     flexInt `json:"pageNumber"`
	PageSize       flexInt `json:"pageSize"`
	TotalAvailable flexInt `json:"totalAvailable"`
}

type datasourcesResponse struct {
	Pagination  pagination `json:"pagination"`
	Datasources struct {
		Datasource []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Project struct {
				Name string `json:"name"`
			} `json:"project"`
		} `json:"datasource"`
	} `json:"datasources"`
}

// ListDatasets walks every page of the site's data sources.
func (s *session) ListDatasets(ctx context.Context) ([]publish.Dataset, error) {
	var out []publish.Dataset
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(pageSize))
		q.Set("pageNumber", strconv.Itoa(page))

		var resp datasourcesResponse
		if err := s.c.doJSON(ctx, http.MethodGet, s.siteURL("datasources")+"?"+q.Encode(), s.token, nil, nil, &resp); err != nil {
			return nil, fmt.Errorf("list datasources page %d: %w", page, err)
		}
		batch := resp.Datasources.Datasource
		for _, ds := range batch {
			out = append(out, publish.Dataset{ID: ds.ID, Name: ds.Name, Project: ds.Project.Name})
		}
		// A zero total means the server sent no pagination block; a short
		// page is then the only end marker.
		total := int(resp.Pagination.TotalAvailable)
		if len(batch) < pageSize || (total > 0 && len(out) >= total) {
			return out, nil
		}
	}
}

type fileUploadResponse struct {
	FileUpload struct {
		UploadSessionID string  `json:"uploadSessionId"`
		FileSize        flexInt `json:"fileSize"`
	} `json:"fileUpload"`
}

func (s *session) InitiateUpload(ctx context.Context) (string, error) {
	var resp fileUploadResponse
	if err := s.c.doJSON(ctx, http.MethodPost, s.siteURL("fileUploads"), s.token, nil, nil, &resp); err != nil {
		return "", fmt.Errorf("initiate upload: %w", err)
	}
	return resp.FileUpload.UploadSessionID, nil
}

// AppendUpload sends one chunk as a multipart/mixed body with an empty
// request_payload part followed by the file part.
func (s *session) AppendUpload(ctx context.Context, sessionID string, chunk []byte, contentType string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	payload := textproto.MIMEHeader{}
	payload.Set("Content-Disposition", `name="request_payload"`)
	payload.Set("Content-Type", "text/xml")
	if _, err := mw.CreatePart(payload); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}

	file := textproto.MIMEHeader{}
	file.Set("Content-Disposition", `name="tableau_file"; filename="extract"`)
	file.Set("Content-Type", contentType)
	part, err := mw.CreatePart(file)
	if err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.siteURL("fileUploads", url.PathEscape(sessionID)), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	req.Header.Set("Accept", "application/json")
	req.Header.Set(AuthHeader, s.token)

	if err := s.c.send(req, nil); err != nil {
		return fmt.Errorf("append upload %s: %w", sessionID, err)
	}
	return nil
}

type updateRequest struct {
	Actions []publish.Action `json:"actions"`
}

type jobPayload struct {
	ID          string     `json:"id"`
	FinishCode  finishCode `json:"finishCode"`
	CreatedAt   *time.Time `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	StatusNotes struct {
		StatusNote []struct {
			Text string `json:"text"`
		} `json:"statusNote"`
	} `json:"statusNotes"`
}

type jobResponse struct {
	Job jobPayload `json:"job"`
}

func (j jobPayload) job() publish.Job {
	out := publish.Job{
		ID:          j.ID,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.FinishCode.set {
		code := j.FinishCode.code
		out.FinishCode = &code
	}
	notes := make([]string, 0, len(j.StatusNotes.StatusNote))
	for _, n := range j.StatusNotes.StatusNote {
		if n.Text != "" {
			notes = append(notes, n.Text)
		}
	}
	out.Notes = strings.Join(notes, "; ")
	return out
}

func (s *session) UpdateData(ctx context.Context, datasetID, sessionID string, actions []publish.Action, requestID string) (publish.Job, error) {
	q := url.Values{}
	q.Set("uploadSessionId", sessionID)
	endpoint := s.siteURL("datasources", url.PathEscape(datasetID), "data") + "?" + q.Encode()

	headers := map[string]string{"RequestID": requestID}
	var resp jobResponse
	if err := s.c.doJSON(ctx, http.MethodPatch, endpoint, s.token, headers, updateRequest{Actions: actions}, &resp); err != nil {
		return publish.Job{}, fmt.Errorf("update data: %w", err)
	}
	return resp.Job.job(), nil
}

func (s *session) GetJob(ctx context.Context, jobID string) (publish.Job, error) {
	var resp jobResponse
	if err := s.c.doJSON(ctx, http.MethodGet, s.siteURL("jobs", url.PathEscape(jobID)), s.token, nil, nil, &resp); err != nil {
		return publish.Job{}, fmt.Errorf("query job: %w", err)
	}
	return resp.Job.job(), nil
}

// doJSON sends an optional JSON body and decodes an optional JSON response.
func (c *Client) doJSON(ctx context.Context, method, endpoint, token string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(AuthHeader, token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.send(req, out)
}

// send executes req and decodes a 2xx JSON body into out when out is set.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: req.Method, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	c.log.Debug("request complete", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// flexInt decodes numbers the server sends either as JSON numbers or as
// numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse %s as integer: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

// finishCode is absent until a job finishes. Missing, null and empty values
// all leave it unset.
type finishCode struct {
	set  bool
	code int
}

func (f *finishCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = finishCode{}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse finish code %s: %w", b, err)
	}
	*f = finishCode{set: true, code: n}
	return nil
}
