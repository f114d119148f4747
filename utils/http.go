package utils

import (
	"io"
	"net/http"

	"github.com/ansel1/merry"
)

const maxResponseSize = 1 << 20

// GetHTTPBody sends req and reads at most 1 MiB of the response body.
func GetHTTPBody(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, merry.Wrap(err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp, nil, merry.Wrap(err)
	}
	return resp, buf, nil
}
