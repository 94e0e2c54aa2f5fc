package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatmon/pkg/logger"
	"chatmon/pkg/models"
)

// Client is a thin JSON client for the ERP's REST resource API. It creates
// tasks and serves as the watcher's identity source.
type Client struct {
	URL string
	// APIKey and APISecret form the token auth header; env-only.
	APIKey    string
	APISecret string

	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := strings.TrimRight(c.URL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.APIKey, c.APISecret))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.httpClient().Do(req)
}

type taskDoc struct {
	Doctype     string `json:"doctype"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	ExpEndDate  string `json:"exp_end_date,omitempty"`
}

// CreateTask creates the task and, when an assignee is set, assigns it.
// Assignment failure downgrades to a warning; the created task is still
// returned.
func (c *Client) CreateTask(ctx context.Context, d models.TaskDetails) (models.TaskResult, error) {
	subject := d.Subject
	if subject == "" {
		subject = "Task from chat"
	}
	priority := d.Priority
	if priority == "" {
		priority = "Medium"
	}
	doc := taskDoc{
		Doctype:     "Task",
		Subject:     subject,
		Description: d.Description,
		Priority:    priority,
		Status:      "Open",
		ExpEndDate:  d.DueDate,
	}
	logger.Info("erp_task_create", "subject", subject)
	resp, err := c.do(ctx, http.MethodPost, "/api/resource/Task", nil, map[string]any{"data": doc})
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("create task: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.TaskResult{}, fmt.Errorf("create task: HTTP %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Data struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.TaskResult{}, fmt.Errorf("decode create response: %w", err)
	}
	taskID := out.Data.Name
	logger.Info("erp_task_created", "task_id", taskID)

	if d.AssignedTo != "" {
		if err := c.assignTask(ctx, taskID, d.AssignedTo, d.Description); err != nil {
			logger.Warn("erp_assign_failed", "task_id", taskID, "assignee", d.AssignedTo, "error", err)
		}
	}
	return models.TaskResult{
		TaskID:  taskID,
		TaskURL: strings.TrimRight(c.URL, "/") + "/app/task/" + taskID,
	}, nil
}

// assignTask uses the assignment endpoint, falling back to a direct
// _assign field update when that endpoint rejects the call.
func (c *Client) assignTask(ctx context.Context, taskID, assignee, description string) error {
	body := map[string]any{
		"assign_to":   fmt.Sprintf("[%q]", assignee),
		"doctype":     "Task",
		"name":        taskID,
		"description": description,
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/method/frappe.desk.form.assign_to.add", nil, body)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		logger.Info("erp_task_assigned", "task_id", taskID, "assignee", assignee)
		return nil
	}

	logger.Warn("erp_assign_endpoint_rejected", "task_id", taskID, "status", resp.StatusCode)
	assign, err := json.Marshal([]string{assignee})
	if err != nil {
		return err
	}
	resp, err = c.do(ctx, http.MethodPut, "/api/resource/Task/"+url.PathEscape(taskID), nil,
		map[string]any{"_assign": string(assign)})
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("assign fallback: HTTP %d", resp.StatusCode)
	}
	logger.Info("erp_task_assigned", "task_id", taskID, "assignee", assignee, "method", "fallback")
	return nil
}

type userRow struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Enabled  int    `json:"enabled"`
}

// ListEnabled returns the enabled users as identities. This is the
// directory's refresh source.
func (c *Client) ListEnabled(ctx context.Context) ([]models.Identity, error) {
	q := url.Values{}
	q.Set("fields", `["name","email","full_name","enabled"]`)
	q.Set("filters", `[["enabled","=",1]]`)
	q.Set("limit_page_length", "1000")

	resp, err := c.do(ctx, http.MethodGet, "/api/resource/User", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list users: HTTP %d", resp.StatusCode)
	}
	var out struct {
		Data []userRow `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode user list: %w", err)
	}
	ids := make([]models.Identity, 0, len(out.Data))
	for _, u := range out.Data {
		ids = append(ids, models.Identity{
			ID:             u.Name,
			DisplayName:    u.FullName,
			ContactAddress: u.Email,
			Handle:         u.Name,
			Enabled:        u.Enabled != 0,
		})
	}
	logger.Debug("erp_users_listed", "count", len(ids))
	return ids, nil
}

// GetUser fetches one user by email or username.
func (c *Client) GetUser(ctx context.Context, identifier string) (models.Identity, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/resource/User/"+url.PathEscape(identifier), nil, nil)
	if err != nil {
		return models.Identity{}, fmt.Errorf("get user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return models.Identity{}, fmt.Errorf("user %q not found", identifier)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Identity{}, fmt.Errorf("get user: HTTP %d", resp.StatusCode)
	}
	var out struct {
		Data userRow `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Identity{}, fmt.Errorf("decode user: %w", err)
	}
	u := out.Data
	return models.Identity{
		ID:             u.Name,
		DisplayName:    u.FullName,
		ContactAddress: u.Email,
		Handle:         u.Name,
		Enabled:        u.Enabled != 0,
	}, nil
}
