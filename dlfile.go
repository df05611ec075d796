// Package dlfile exposes the client builder and a one-call download into a
// managed destination file.
package dlfile

import (
	"context"
	"fmt"
	"net/url"

	"github.com/adamwoolhether/dlfile/client"
	"github.com/adamwoolhether/dlfile/download"
)

// NewClient instantiates a new *Client with the provided options.
// If not specified, the default http.Client and http.Transport are used.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}

// Fetch downloads rawURL into dest with a default client. The destination
// is opened under policy and released before Fetch returns.
func Fetch(ctx context.Context, rawURL, dest string, policy download.OverwritePolicy, fileOpts ...download.Option) (int64, error) {
	src, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parsing url: %w", err)
	}

	c, err := client.Build()
	if err != nil {
		return 0, err
	}

	return c.Fetch(ctx, src, dest, policy, fileOpts...)
}
