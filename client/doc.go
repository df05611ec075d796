// Package client provides the HTTP side of a download: a configurable
// client built on [net/http] whose response bodies are streamed into a
// [download.File].
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(10 * time.Minute),
//		client.WithUserAgent("myapp/1.0"),
//		client.WithThrottle(5, 5),
//	)
//
// # Downloading into a File
//
// [Client.Download] copies a response body into a File the caller opened
// and still owns:
//
//	f, err := download.Open(destPath, download.ReplaceIfEmpty)
//	...
//	defer f.Close()
//	u := client.URL("https", "example.com", "/file.bin")
//	req, err := client.Request(ctx, u, http.MethodGet)
//	n, err := c.Download(req, http.StatusOK, f)
//
// [Client.Fetch] does the same for a GET request, opens and releases the
// File itself, and retries broken transfers when [WithRetries] is set.
//
// # Errors
//
// A response with an unexpected status yields an [UnexpectedStatusError].
// It matches [ErrUnexpectedStatusCode] and a kind derived from the
// status, so callers can use errors.Is with fs.ErrPermission,
// fs.ErrExist, fs.ErrNotExist, [ErrInvalidRequest] or [ErrServer].
// A transfer ended by its context matches [ErrDownloadCancelled].
package client
