package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	listPath     = "/api/tags"
	fetchTimeout = 5 * time.Second
)

type listResponse struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name string `json:"name"`
}

// Fetch queries the model-listing endpoint and returns model names in server
// order. The catalog is transient: callers replace it wholesale per refresh.
func Fetch(ctx context.Context, baseURL string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + listPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model listing failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model listing returned status %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model listing: %v", err)
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// Pick returns the first model containing preferred as a substring. ok is
// false when preferred is empty or nothing matches, leaving the caller's
// default selection in place.
func Pick(models []string, preferred string) (string, bool) {
	if preferred == "" {
		return "", false
	}
	for _, m := range models {
		if strings.Contains(m, preferred) {
			return m, true
		}
	}
	return "", false
}

// Refresher collapses concurrent refreshes of the same base URL into a
// single outbound request.
type Refresher struct {
	group singleflight.Group
}

func (r *Refresher) Refresh(ctx context.Context, baseURL string) ([]string, error) {
	v, err, _ := r.group.Do(baseURL, func() (interface{}, error) {
		return Fetch(ctx, baseURL)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
