package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

type call struct {
	name string
	args []string
}

type scriptedRunner struct {
	calls   []call
	results []scriptedResult
}

type scriptedResult struct {
	stdout string
	stderr string
	err    error
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	r.calls = append(r.calls, call{name: name, args: args})
	if len(r.results) == 0 {
		return "", "", fmt.Errorf("unexpected invocation: %v", args)
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res.stdout, res.stderr, res.err
}

func newTestClient(r Runner) *Client {
	return NewClient("bd", 20*time.Second).WithRunner(r)
}

func TestListBuildsArgs(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{stdout: `[{"id":"copilot-a1","title":"Fix login","status":"open"}]`},
	}}
	client := newTestClient(runner)

	issues, err := client.List(context.Background(), ListParams{Limit: 20})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "copilot-a1" {
		t.Fatalf("issues = %+v", issues)
	}

	want := []string{"--no-daemon", "list", "--json", "--limit", "20"}
	if !reflect.DeepEqual(runner.calls[0].args, want) {
		t.Errorf("args = %v, want %v", runner.calls[0].args, want)
	}
}

func TestListIncludesClosedVariant(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{{stdout: `[]`}}}
	client := newTestClient(runner)

	if _, err := client.List(context.Background(), ListParams{Limit: 5, All: true, Status: "closed"}); err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"--no-daemon", "list", "--json", "--limit", "5", "--all", "--status", "closed"}
	if !reflect.DeepEqual(runner.calls[0].args, want) {
		t.Errorf("args = %v, want %v", runner.calls[0].args, want)
	}
}

func TestOutOfSyncRecoversWithSingleSyncAndRetry(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{stderr: "Error: local store is OUT OF SYNC with remote", err: errors.New("exit status 1")},
		{stdout: "synced"},
		{stdout: `[{"id":"copilot-b2","title":"Retry works","status":"open"}]`},
	}}
	client := newTestClient(runner)

	issues, err := client.List(context.Background(), ListParams{Limit: 50})
	if err != nil {
		t.Fatalf("List after recovery: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "copilot-b2" {
		t.Fatalf("issues = %+v", issues)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("invocations = %d, want exactly 3", len(runner.calls))
	}
	if runner.calls[0].args[1] != "list" {
		t.Errorf("first call = %v", runner.calls[0].args)
	}
	wantSync := []string{"sync", "--import-only"}
	if !reflect.DeepEqual(runner.calls[1].args, wantSync) {
		t.Errorf("second call = %v, want %v", runner.calls[1].args, wantSync)
	}
	if !reflect.DeepEqual(runner.calls[2].args, runner.calls[0].args) {
		t.Errorf("retry args = %v, want original %v", runner.calls[2].args, runner.calls[0].args)
	}
}

func TestOutOfSyncPersistsAfterRecovery(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{stderr: "store out of sync", err: errors.New("exit status 1")},
		{stdout: "synced"},
		{stderr: "store out of sync", err: errors.New("exit status 1")},
	}}
	client := newTestClient(runner)

	_, err := client.List(context.Background(), ListParams{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("invocations = %d, want 3 and no second recovery", len(runner.calls))
	}
}

func TestNotFoundMapping(t *testing.T) {
	cases := []string{
		"Error: issue copilot-zz not found",
		"No issue matches that id",
		"unknown issue reference",
		"issue does not exist",
	}
	for _, stderr := range cases {
		runner := &scriptedRunner{results: []scriptedResult{
			{stderr: stderr, err: errors.New("exit status 1")},
		}}
		client := newTestClient(runner)

		_, err := client.Show(context.Background(), "copilot-zz")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("stderr %q: err = %v, want ErrNotFound", stderr, err)
		}
	}
}

func TestGenericFailureMapsToUnavailable(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{
		{stderr: "connection refused", err: errors.New("exit status 1")},
	}}
	client := newTestClient(runner)

	_, err := client.Show(context.Background(), "copilot-a1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestUpdateAppendsNotes(t *testing.T) {
	runner := &scriptedRunner{results: []scriptedResult{{stdout: `{"id":"copilot-a1"}`}}}
	client := newTestClient(runner)

	if err := client.Update(context.Background(), "copilot-a1", UpdateParams{Status: "closed", AppendNotes: "canceled by user"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := []string{"--no-daemon", "update", "copilot-a1", "--json", "--status", "closed", "--append-notes", "canceled by user"}
	if !reflect.DeepEqual(runner.calls[0].args, want) {
		t.Errorf("args = %v, want %v", runner.calls[0].args, want)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	client := newTestClient(&scriptedRunner{})
	if _, err := client.Create(context.Background(), CreateParams{Title: "  "}); err == nil {
		t.Fatal("expected error for blank title")
	}
}
