package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultGitHubAPI     = "https://api.github.com"
	DefaultGitHubBranch  = "main"
	DefaultCommitMessage = "chore: update products via catalog endpoint"
)

type GitHubOptions struct {
	APIBase    string
	Owner      string
	Repo       string
	Path       string
	Branch     string
	Token      string
	Message    string
	HTTPClient *http.Client
}

// GitHubStore keeps the document as a file in a repository through the
// contents API. The blob sha is the version and every write is a commit.
type GitHubStore struct {
	apiBase    string
	owner      string
	repo       string
	path       string
	branch     string
	token      string
	message    string
	httpClient *http.Client
}

func NewGitHubStore(opts GitHubOptions) (*GitHubStore, error) {
	if strings.TrimSpace(opts.Owner) == "" || strings.TrimSpace(opts.Repo) == "" || strings.Trim(opts.Path, "/ ") == "" {
		return nil, errors.Wrap(ErrInvalidInput, "github store needs owner, repo and path")
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultGitHubAPI
	}
	if opts.Branch == "" {
		opts.Branch = DefaultGitHubBranch
	}
	if opts.Message == "" {
		opts.Message = DefaultCommitMessage
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GitHubStore{
		apiBase:    strings.TrimRight(opts.APIBase, "/"),
		owner:      opts.Owner,
		repo:       opts.Repo,
		path:       strings.Trim(opts.Path, "/"),
		branch:     opts.Branch,
		token:      strings.TrimSpace(opts.Token),
		message:    opts.Message,
		httpClient: opts.HTTPClient,
	}, nil
}

type githubContent struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

func (s *GitHubStore) contentsURL() string {
	segments := strings.Split(s.path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.apiBase, url.PathEscape(s.owner), url.PathEscape(s.repo), strings.Join(segments, "/"))
}

func (s *GitHubStore) Get(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentsURL()+"?ref="+url.QueryEscape(s.branch), nil)
	if err != nil {
		return Document{}, err
	}
	s.setHeaders(req)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Document{}, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, errors.Errorf("github get failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var file githubContent
	if err := json.Unmarshal(body, &file); err != nil {
		return Document{}, errors.Wrap(err, "decode github contents")
	}
	content, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return Document{}, errors.Wrap(err, "decode github file content")
	}
	return Document{Content: content, Version: file.SHA, Exists: true}, nil
}

func (s *GitHubStore) Put(ctx context.Context, content []byte, baseVersion string) (Document, error) {
	if s.token == "" {
		return Document{}, errors.New("missing github token for writes")
	}
	payload := map[string]string{
		"message": s.message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  s.branch,
	}
	if baseVersion != "" {
		payload["sha"] = baseVersion
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Document{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentsURL(), bytes.NewReader(body))
	if err != nil {
		return Document{}, err
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, err
	}
	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		// stale or missing sha
		return Document{}, &ConflictError{Expected: baseVersion}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Document{}, errors.Errorf("github put failed: %d %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var out struct {
		Content githubContent `json:"content"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Document{}, errors.Wrap(err, "decode github put response")
	}
	return Document{
		Content:   append([]byte(nil), content...),
		Version:   out.Content.SHA,
		Exists:    true,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (s *GitHubStore) Close() error {
	return nil
}

func (s *GitHubStore) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.token != "" {
		req.Header.Set("Authorization", "token "+s.token)
	}
}
