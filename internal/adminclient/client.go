// Package adminclient is the thin HTTP client behind the iotfw admin
// commands. It talks to a running server's API, tolerating the self-signed
// certificate the server generates for itself.
package adminclient

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dushixiang/iotfw/internal/models"
	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/internal/service"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, insecure bool) *Client {
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}
}

func (c *Client) Devices() (map[string]models.DeviceRecord, error) {
	var out map[string]models.DeviceRecord
	if err := c.get("/api/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stats() (*protocol.StatsResponse, error) {
	var out protocol.StatsResponse
	if err := c.get("/api/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Deploy(deviceID string) (*service.DeployResult, error) {
	resp, err := c.http.Post(c.baseURL+"/admin/deploy/"+deviceID, "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("device %q not found", deviceID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deploy request failed: status %d", resp.StatusCode)
	}

	var out service.DeployResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
