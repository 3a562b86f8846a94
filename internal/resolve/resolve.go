// Package resolve implements InactiveResolver: given a Project, it
// determines which group to deploy into. The three variants (literal,
// URL-as-tail-field, URL-as-raw-body) are branches of Resolver.Resolve
// rather than separate types behind an interface.
package resolve

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"jroll/internal/config"
	"jroll/internal/jrollerr"
)

const httpTimeout = 10 * time.Second

// HTTPDoer is the subset of *http.Client the resolver needs; tests
// substitute an httptest.Server-backed client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver determines a project's inactive group.
type Resolver struct {
	Client HTTPDoer
}

// New builds a Resolver with a default HTTP client bounded by httpTimeout.
func New() *Resolver {
	return &Resolver{Client: &http.Client{Timeout: httpTimeout}}
}

type infoDoc struct {
	Tail string `yaml:"tail"`
}

// Resolve returns the name of the group to deploy into: an info URL
// takes precedence, then a literal inactive value, then an inactive
// value that is itself a URL to fetch and use verbatim.
func (r *Resolver) Resolve(ctx context.Context, p *config.Project) (string, error) {
	if p.Info != "" {
		return r.resolveInfo(ctx, p.Info)
	}
	if p.Inactive != "" && !isURL(p.Inactive) {
		return p.Inactive, nil
	}
	if isURL(p.Inactive) {
		return r.resolveURL(ctx, p.Inactive)
	}
	return "", &jrollerr.ResolverError{URL: "", Err: errNoSource}
}

// ResolveActive returns the "other" group for `restart --active`,
// requiring exactly two groups.
func (r *Resolver) ResolveActive(ctx context.Context, p *config.Project) (string, error) {
	inactive, err := r.Resolve(ctx, p)
	if err != nil {
		return "", err
	}
	if len(p.Groups) != 2 {
		return "", &jrollerr.UsageError{Msg: "restart --active requires exactly two groups"}
	}
	others := p.OtherGroups(inactive)
	if len(others) != 1 {
		return "", &jrollerr.UsageError{Msg: "restart --active requires exactly two groups"}
	}
	return others[0], nil
}

func (r *Resolver) resolveInfo(ctx context.Context, url string) (string, error) {
	body, contentType, err := r.get(ctx, url)
	if err != nil {
		return "", &jrollerr.ResolverError{URL: url, Err: err}
	}

	if !strings.Contains(contentType, "text/yaml") {
		return "", &jrollerr.ResolverError{URL: url, Err: errBadContentType(contentType)}
	}

	var doc infoDoc
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return "", &jrollerr.ResolverError{URL: url, Err: err}
	}
	if doc.Tail == "" {
		return "", &jrollerr.ResolverError{URL: url, Err: errMissingTail}
	}
	return doc.Tail, nil
}

func (r *Resolver) resolveURL(ctx context.Context, url string) (string, error) {
	body, _, err := r.get(ctx, url)
	if err != nil {
		return "", &jrollerr.ResolverError{URL: url, Err: err}
	}
	return strings.TrimSpace(string(body)), nil
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", errBadStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
