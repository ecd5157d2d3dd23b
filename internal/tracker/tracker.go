package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound marks an issue the tracker does not know. The HTTP
// boundary maps it to 404.
var ErrNotFound = errors.New("tracker issue not found")

// ErrUnavailable marks a tracker failure that is not the caller's
// fault: non-zero exit, timeout, or an out-of-sync state that one
// recovery pass did not fix. The HTTP boundary maps it to 502.
var ErrUnavailable = errors.New("tracker unavailable")

// Marker substrings are data, matched case-insensitively against the
// combined stdout+stderr; the recovery policy around them is the
// stable contract.
var outOfSyncMarkers = []string{"out of sync"}

var notFoundMarkers = []string{"not found", "no issue", "unknown issue", "does not exist"}

// Runner executes the tracker binary. Swapped in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// Client drives the external issue tracker through its CLI.
type Client struct {
	binary  string
	timeout time.Duration
	runner  Runner
}

func NewClient(binary string, timeout time.Duration) *Client {
	if binary == "" {
		binary = "bd"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{binary: binary, timeout: timeout, runner: execRunner{}}
}

// WithRunner replaces the subprocess runner, for tests.
func (c *Client) WithRunner(r Runner) *Client {
	c.runner = r
	return c
}

// Issue is the tracker's view of a task.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// CreateParams describes a new issue.
type CreateParams struct {
	Title       string
	Type        string
	Description string
	Priority    string
	Assignee    string
	ExternalRef string
}

// ListParams filters a listing.
type ListParams struct {
	Limit  int
	All    bool
	Status string
}

// UpdateParams mutates an issue.
type UpdateParams struct {
	Status      string
	AppendNotes string
}

// Create mirrors a task into the tracker and returns the new issue.
func (c *Client) Create(ctx context.Context, p CreateParams) (Issue, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Issue{}, errors.New("title required")
	}
	args := []string{"--no-daemon", "create", p.Title, "--json"}
	if p.Type != "" {
		args = append(args, "--type", p.Type)
	}
	if p.Description != "" {
		args = append(args, "--description", p.Description)
	}
	if p.Priority != "" {
		args = append(args, "--priority", p.Priority)
	}
	if p.Assignee != "" {
		args = append(args, "-a", p.Assignee)
	}
	if p.ExternalRef != "" {
		args = append(args, "--external-ref", p.ExternalRef)
	}

	stdout, err := c.run(ctx, args)
	if err != nil {
		return Issue{}, err
	}
	var issue Issue
	if err := json.Unmarshal([]byte(stdout), &issue); err != nil {
		return Issue{}, fmt.Errorf("decode create output: %w", err)
	}
	return issue, nil
}

// List returns issues, newest first per the tracker's default order.
func (c *Client) List(ctx context.Context, p ListParams) ([]Issue, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	args := []string{"--no-daemon", "list", "--json", "--limit", strconv.Itoa(p.Limit)}
	if p.All {
		args = append(args, "--all")
	}
	if p.Status != "" {
		args = append(args, "--status", p.Status)
	}

	stdout, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	if err := json.Unmarshal([]byte(stdout), &issues); err != nil {
		return nil, fmt.Errorf("decode list output: %w", err)
	}
	return issues, nil
}

// Show fetches one issue.
func (c *Client) Show(ctx context.Context, id string) (Issue, error) {
	if strings.TrimSpace(id) == "" {
		return Issue{}, errors.New("issue id required")
	}
	stdout, err := c.run(ctx, []string{"--no-daemon", "show", id, "--json"})
	if err != nil {
		return Issue{}, err
	}
	var issue Issue
	if err := json.Unmarshal([]byte(stdout), &issue); err != nil {
		return Issue{}, fmt.Errorf("decode show output: %w", err)
	}
	return issue, nil
}

// Update changes an issue's status and optionally appends notes.
func (c *Client) Update(ctx context.Context, id string, p UpdateParams) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("issue id required")
	}
	args := []string{"--no-daemon", "update", id, "--json"}
	if p.Status != "" {
		args = append(args, "--status", p.Status)
	}
	if p.AppendNotes != "" {
		args = append(args, "--append-notes", p.AppendNotes)
	}
	_, err := c.run(ctx, args)
	return err
}

// run executes one tracker command with the out-of-sync recovery
// policy: when the output reports an out-of-sync store, run
// `sync --import-only` once and retry the original command exactly
// once; a second failure is terminal.
func (c *Client) run(ctx context.Context, args []string) (string, error) {
	stdout, stderr, err := c.invoke(ctx, args)
	combined := strings.ToLower(stdout + "\n" + stderr)

	if containsAny(combined, outOfSyncMarkers) {
		log.Printf("[tracker] out of sync detected, recovering cmd=%v", args)
		if _, syncErr := c.runOnce(ctx, []string{"sync", "--import-only"}); syncErr != nil {
			return "", fmt.Errorf("recovery sync failed: %v: %w", syncErr, ErrUnavailable)
		}
		stdout, stderr, err = c.invoke(ctx, args)
		combined = strings.ToLower(stdout + "\n" + stderr)
		if containsAny(combined, outOfSyncMarkers) {
			return "", fmt.Errorf("still out of sync after recovery: %w", ErrUnavailable)
		}
	}

	if err != nil {
		if containsAny(combined, notFoundMarkers) {
			return "", fmt.Errorf("%s: %w", firstLine(stderr, stdout), ErrNotFound)
		}
		return "", fmt.Errorf("tracker command failed: %v: %s: %w", err, firstLine(stderr, stdout), ErrUnavailable)
	}
	return stdout, nil
}

func (c *Client) runOnce(ctx context.Context, args []string) (string, error) {
	stdout, stderr, err := c.invoke(ctx, args)
	if err != nil {
		return "", fmt.Errorf("%v: %s", err, firstLine(stderr, stdout))
	}
	return stdout, nil
}

func (c *Client) invoke(ctx context.Context, args []string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.runner.Run(runCtx, c.binary, args...)
}

func containsAny(haystack string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

func firstLine(preferred, fallback string) string {
	s := strings.TrimSpace(preferred)
	if s == "" {
		s = strings.TrimSpace(fallback)
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
