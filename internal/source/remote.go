package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"picdeck/internal/cache"
	"picdeck/internal/image_list"
)

const maxImageBytes = 256 << 20

// Remote talks to a picdeck server: the listing comes from /api/images and
// every listing entry carries the URL its bytes are served from.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger
}

func NewRemote(baseURL string, client *http.Client, logger *zap.Logger) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url %q: scheme must be http or https", baseURL)
	}

	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &Remote{
		baseURL: u,
		client:  client,
		logger:  logger.Named("source.remote"),
	}, nil
}

func (r *Remote) List(ctx context.Context) ([]image_list.Listing, error) {
	listURL := r.baseURL.JoinPath("api", "images")

	body, err := r.get(ctx, listURL.String())
	if err != nil {
		return nil, err
	}

	var listings []image_list.Listing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}

	for i := range listings {
		if resolved, err := r.resolve(listings[i].SourceURL); err == nil {
			listings[i].SourceURL = resolved
		}
	}
	return listings, nil
}

func (r *Remote) Fetch(ctx context.Context, location string, size cache.Size) ([]byte, error) {
	resolved, err := r.resolve(location)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(resolved)
	if err != nil {
		return nil, err
	}

	if !size.IsOriginal() {
		q := u.Query()
		q.Set("w", strconv.Itoa(size.Width))
		q.Set("h", strconv.Itoa(size.Height))
		q.Set("scale", strconv.FormatFloat(size.Scale, 'f', -1, 64))
		u.RawQuery = q.Encode()
	}

	return r.get(ctx, u.String())
}

// resolve makes relative listing URLs absolute against the base URL
func (r *Remote) resolve(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("no source url for image")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", location, err)
	}
	return r.baseURL.ResolveReference(ref).String(), nil
}

func (r *Remote) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("request %s: %w", target, fs.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("request %s: unexpected status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	r.logger.Debug("Downloaded",
		zap.String("url", target),
		zap.Int("bytes", len(body)),
		zap.Duration("duration", time.Since(start)),
	)
	return body, nil
}
