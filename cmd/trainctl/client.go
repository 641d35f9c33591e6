package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trainhub/internal/job"
	"trainhub/internal/queue"
)

// apiClient is a thin HTTP client for the trainhub service.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *apiClient) submit(req job.Request) (job.Job, error) {
	var j job.Job
	err := c.do(http.MethodPost, "/v1/jobs", req, &j)
	return j, err
}

func (c *apiClient) get(jobID string) (job.Job, error) {
	var j job.Job
	err := c.do(http.MethodGet, "/v1/jobs/"+jobID, nil, &j)
	return j, err
}

type listResponse struct {
	Jobs  []job.Job `json:"jobs"`
	Count int       `json:"count"`
}

func (c *apiClient) list(query string) (listResponse, error) {
	var resp listResponse
	err := c.do(http.MethodGet, "/v1/jobs"+query, nil, &resp)
	return resp, err
}

func (c *apiClient) cancel(jobID string) (job.Job, error) {
	var j job.Job
	err := c.do(http.MethodDelete, "/v1/jobs/"+jobID, nil, &j)
	return j, err
}

func (c *apiClient) stats() (queue.Stats, error) {
	var s queue.Stats
	err := c.do(http.MethodGet, "/v1/jobs/stats", nil, &s)
	return s, err
}

// watch streams a job's events, calling fn for each one until the
// stream ends.
func (c *apiClient) watch(jobID string, fn func(eventType string, ev job.Event)) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/jobs/"+jobID+"/events", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// No overall timeout: a stream lives as long as the job.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var eventType string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev job.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			fn(eventType, ev)
		}
	}
	return scanner.Err()
}
