package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"feedstash/internal/models"
)

// getJSON fetches url and decodes the JSON body into v. Transport and
// server-side failures come back classified so the coordinator can persist
// the kind onto the failed post.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, v any) error {
	resp, err := get(ctx, client, url, header)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return models.NewExtractionError(models.FailedToLocateContent, "could not decode host response", err)
	}
	return nil
}

func get(ctx context.Context, client *http.Client, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewExtractionError(models.FailedToLocateContent, "malformed media url", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, models.NewExtractionError(models.HostUnavailable, "host did not respond", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		resp.Body.Close()
		return nil, models.NewExtractionError(models.HostUnavailable, fmt.Sprintf("host returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, models.NewExtractionError(models.FailedToLocateContent, fmt.Sprintf("host returned %d", resp.StatusCode), nil)
	}
	return resp, nil
}
