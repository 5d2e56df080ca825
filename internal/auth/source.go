package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/fivetwenty-io/docbridge/internal/constants"
	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Static errors for err113 compliance.
var (
	ErrNoDocument       = errors.New("no document available")
	ErrEmptyTokenReply  = errors.New("token endpoint returned no token")
	ErrNoFetcher        = errors.New("no token fetcher configured")
	ErrInvalidCookieURL = errors.New("invalid cookie URL")
)

// Default names under which a security token is published by each source.
var (
	MetaTagNames = []string{"csrf-token", "csrf_token", "x-csrf-token"}
	EnvNames     = []string{constants.EnvSecurityToken, constants.EnvSecurityTokenAlias}
	CookieNames  = []string{"csrf_token", "csrftoken", "X-CSRF-Token"}
)

// Source is one place a security token may be found. TryRead returns "" and a
// nil error when the source simply has no token.
type Source interface {
	Kind() docbridge.TokenSource
	TryRead(ctx context.Context) (string, error)
}

// DocumentProvider returns the HTML document that hosts the caller.
type DocumentProvider func(ctx context.Context) (io.Reader, error)

// FileDocument serves the document stored at path.
func FileDocument(path string) DocumentProvider {
	return func(ctx context.Context) (io.Reader, error) {
		data, err := os.ReadFile(path) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("failed to read document: %w", err)
		}

		return bytes.NewReader(data), nil
	}
}

// StringDocument serves a fixed document.
func StringDocument(document string) DocumentProvider {
	return func(ctx context.Context) (io.Reader, error) {
		return strings.NewReader(document), nil
	}
}

// MetaTagSource reads <meta name="csrf-token" content="..."> from the host document.
type MetaTagSource struct {
	Document DocumentProvider
	Names    []string
}

func (s *MetaTagSource) Kind() docbridge.TokenSource { return docbridge.SourceMetaTag }

func (s *MetaTagSource) TryRead(ctx context.Context) (string, error) {
	if s.Document == nil {
		return "", nil
	}

	reader, err := s.Document(ctx)
	if err != nil {
		return "", err
	}

	if reader == nil {
		return "", ErrNoDocument
	}

	root, err := html.Parse(reader)
	if err != nil {
		return "", fmt.Errorf("failed to parse document: %w", err)
	}

	names := s.Names
	if len(names) == 0 {
		names = MetaTagNames
	}

	return findMetaContent(root, names), nil
}

func findMetaContent(node *html.Node, names []string) string {
	if node.Type == html.ElementNode && node.Data == "meta" {
		var name, content string

		for _, attr := range node.Attr {
			switch strings.ToLower(attr.Key) {
			case "name":
				name = attr.Val
			case "content":
				content = attr.Val
			}
		}

		for _, candidate := range names {
			if strings.EqualFold(name, candidate) && strings.TrimSpace(content) != "" {
				return strings.TrimSpace(content)
			}
		}
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if value := findMetaContent(child, names); value != "" {
			return value
		}
	}

	return ""
}

// EnvSource reads the token from process-global variables.
type EnvSource struct {
	Lookup func(key string) (string, bool)
	Names  []string
}

func (s *EnvSource) Kind() docbridge.TokenSource { return docbridge.SourceEnvironment }

func (s *EnvSource) TryRead(ctx context.Context) (string, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	names := s.Names
	if len(names) == 0 {
		names = EnvNames
	}

	for _, name := range names {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}

	return "", nil
}

// CookieSource reads the token from cookies held for the resource server.
type CookieSource struct {
	Jar   http.CookieJar
	URL   string
	Names []string
}

func (s *CookieSource) Kind() docbridge.TokenSource { return docbridge.SourceCookie }

func (s *CookieSource) TryRead(ctx context.Context) (string, error) {
	if s.Jar == nil {
		return "", nil
	}

	target, err := url.Parse(s.URL)
	if err != nil || target.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCookieURL, s.URL)
	}

	names := s.Names
	if len(names) == 0 {
		names = CookieNames
	}

	cookies := s.Jar.Cookies(target)

	for _, name := range names {
		for _, cookie := range cookies {
			if cookie.Name != name {
				continue
			}

			value, unescapeErr := url.QueryUnescape(cookie.Value)
			if unescapeErr != nil {
				value = cookie.Value
			}

			if value != "" {
				return value, nil
			}
		}
	}

	return "", nil
}

// StoreSource reads the token persisted by a previous run.
type StoreSource struct {
	Store docbridge.TokenStore
}

func (s *StoreSource) Kind() docbridge.TokenSource { return docbridge.SourceLocalStore }

func (s *StoreSource) TryRead(ctx context.Context) (string, error) {
	if s.Store == nil {
		return "", nil
	}

	token, err := s.Store.Load(ctx)
	if errors.Is(err, docbridge.ErrTokenNotFound) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return token.Value, nil
}

// FetchFunc performs the GET on the token endpoint and returns the raw body.
type FetchFunc func(ctx context.Context) ([]byte, error)

// FetchSource asks the resource server for a fresh token.
type FetchSource struct {
	Fetch FetchFunc
}

func (s *FetchSource) Kind() docbridge.TokenSource { return docbridge.SourceServerFetch }

func (s *FetchSource) TryRead(ctx context.Context) (string, error) {
	if s.Fetch == nil {
		return "", ErrNoFetcher
	}

	body, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}

	return DecodeTokenResponse(body)
}

// DecodeTokenResponse accepts {"message": t}, {"csrf_token": t} and {"data": {"csrf_token": t}}.
func DecodeTokenResponse(body []byte) (string, error) {
	var reply struct {
		Message   json.RawMessage `json:"message"`
		CSRFToken string          `json:"csrf_token"`
		Data      json.RawMessage `json:"data"`
	}

	err := json.Unmarshal(body, &reply)
	if err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	var message string
	if len(reply.Message) > 0 && json.Unmarshal(reply.Message, &message) != nil {
		message = ""
	}

	var data struct {
		CSRFToken string `json:"csrf_token"`
	}
	if len(reply.Data) > 0 && json.Unmarshal(reply.Data, &data) != nil {
		data.CSRFToken = ""
	}

	for _, candidate := range []string{message, reply.CSRFToken, data.CSRFToken} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate, nil
		}
	}

	return "", ErrEmptyTokenReply
}
