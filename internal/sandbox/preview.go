package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// previewFetchTimeout keeps post-apply verification from pinning a worker
// on a dead preview host.
const previewFetchTimeout = 5 * time.Second

// FetchPreviewFile fetches one source file from a sandbox's public preview
// URL. The dev server serves project sources verbatim, which is what the
// post-apply verifier inspects.
func (c *Client) FetchPreviewFile(ctx context.Context, previewURL, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, previewFetchTimeout)
	defer cancel()

	url := strings.TrimRight(previewURL, "/") + "/" + strings.TrimLeft(path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("preview fetch: %s for %s", resp.Status, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
