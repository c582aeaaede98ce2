package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// APIClient provides HTTP client functionality to communicate with a
// running craftd daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/instances")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// CreateInstance creates a new instance record.
func (c *APIClient) CreateInstance(name string, port int, memory, jar string) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"name":   name,
		"port":   port,
		"memory": memory,
		"jar":    jar,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Post(c.baseURL+"/instances", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return decodeObject(resp, http.StatusCreated)
}

// ListInstances fetches all instance records.
func (c *APIClient) ListInstances() (any, error) {
	resp, err := c.client.Get(c.baseURL + "/instances")
	if err != nil {
		return nil, err
	}
	return decodeAny(resp, http.StatusOK)
}

// GetStatus fetches the runtime status of one instance.
func (c *APIClient) GetStatus(id string) (any, error) {
	resp, err := c.client.Get(c.baseURL + "/instances/" + id + "/status")
	if err != nil {
		return nil, err
	}
	return decodeAny(resp, http.StatusOK)
}

// StartInstance starts an instance's process.
func (c *APIClient) StartInstance(id string) (any, error) {
	resp, err := c.client.Post(c.baseURL+"/instances/"+id+"/start", "application/json", nil)
	if err != nil {
		return nil, err
	}
	return decodeAny(resp, http.StatusOK)
}

// StopInstance requests a graceful stop. The daemon returns before the
// process exits; poll status to observe the stop.
func (c *APIClient) StopInstance(id string) error {
	return c.postOK("/instances/" + id + "/stop")
}

// KillInstance force-terminates an instance's process.
func (c *APIClient) KillInstance(id string) error {
	return c.postOK("/instances/" + id + "/kill")
}

// DeleteInstance removes an instance record and its directory.
func (c *APIClient) DeleteInstance(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/instances/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, err = decodeAny(resp, http.StatusOK)
	return err
}

// SendCommand writes one command line to the instance's console.
func (c *APIClient) SendCommand(id, text string) error {
	body, err := json.Marshal(map[string]string{"command": text})
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.baseURL+"/instances/"+id+"/command", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	_, err = decodeAny(resp, http.StatusOK)
	return err
}

// GetConsole fetches the bounded console tail.
func (c *APIClient) GetConsole(id string) (string, error) {
	resp, err := c.client.Get(c.baseURL + "/instances/" + id + "/console")
	if err != nil {
		return "", err
	}
	obj, err := decodeObject(resp, http.StatusOK)
	if err != nil {
		return "", err
	}
	s, _ := obj["console"].(string)
	return s, nil
}

// UploadArtifact uploads a server jar.
func (c *APIClient) UploadArtifact(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	resp, err := c.client.Post(c.baseURL+"/artifacts", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	obj, err := decodeObject(resp, http.StatusCreated)
	if err != nil {
		return "", err
	}
	name, _ := obj["artifact"].(string)
	return name, nil
}

func (c *APIClient) postOK(path string) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	_, err = decodeAny(resp, http.StatusOK)
	return err
}

func decodeAny(resp *http.Response, want int) (any, error) {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != want {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
			return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("API error: %s", er.Error)
	}
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func decodeObject(resp *http.Response, want int) (map[string]any, error) {
	v, err := decodeAny(resp, want)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("API error: unexpected response shape")
	}
	return obj, nil
}
