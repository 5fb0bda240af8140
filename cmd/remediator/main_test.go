package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/request"
)

func TestExecuteMissingParameters(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := execute([]string{}, &stdout, &stderr)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if strings.TrimSpace(stdout.String()) != missingParameters {
		t.Errorf("stdout = %q, want %q", stdout.String(), missingParameters)
	}
}

func TestExecuteInvalidParameters(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		errText string
	}{
		{name: "malformed JSON", arg: `{"service":`, errText: "not valid JSON"},
		{name: "unknown action", arg: `{"action": "reset_password"}`, errText: "unknown action"},
		{name: "unsafe service", arg: `{"service": "vpn$(id)"}`, errText: "invalid characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer

			code := execute([]string{tt.arg}, &stdout, &stderr)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}

			var doc map[string]interface{}
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("stdout is not a JSON document: %v\n%s", err, stdout.String())
			}
			if doc["success"] != false {
				t.Errorf("success = %v, want false", doc["success"])
			}
			if msg, _ := doc["error"].(string); !strings.Contains(msg, tt.errText) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.errText)
			}
			if _, ok := doc["timestamp"]; !ok {
				t.Error("error document should carry a timestamp")
			}
		})
	}
}

func TestExecuteInvocationErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		errText string
	}{
		{name: "too many arguments", args: []string{"{}", "{}"}, errText: "accepts at most 1 arg"},
		{name: "unknown flag", args: []string{"--bogus", "{}"}, errText: "unknown flag: --bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer

			if code := execute(tt.args, &stdout, &stderr); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}

			var doc map[string]interface{}
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("stdout is not a JSON document: %v\n%s", err, stdout.String())
			}
			if doc["success"] != false {
				t.Errorf("success = %v, want false", doc["success"])
			}
			if msg, _ := doc["error"].(string); !strings.Contains(msg, tt.errText) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.errText)
			}
			if !strings.Contains(stderr.String(), tt.errText) {
				t.Errorf("stderr = %q", stderr.String())
			}
		})
	}
}

func TestExecuteVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := execute([]string{"--version"}, &stdout, &stderr)

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "remediator "+version) {
		t.Errorf("stdout = %q", stdout.String())
	}
}

// fakeHandler returns a fixed outcome or panics
type fakeHandler struct {
	outcome *remediation.Outcome
	panics  bool
}

func (h *fakeHandler) Handle(ctx context.Context, req *request.Request) (*remediation.Outcome, error) {
	if h.panics {
		panic("handler exploded")
	}
	return h.outcome, nil
}

func (h *fakeHandler) Shutdown() {}

func withHandler(t *testing.T, h handler) {
	t.Helper()
	orig := newHandler
	newHandler = func(configPath, version string) (handler, error) { return h, nil }
	t.Cleanup(func() { newHandler = orig })
}

func TestRunExitCodeFollowsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		want    int
	}{
		{name: "success", success: true, want: 0},
		{name: "failure", success: false, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withHandler(t, &fakeHandler{outcome: &remediation.Outcome{
				Success: tt.success,
				Action:  remediation.ActionRestart,
				Actions: []remediation.ActionLogEntry{},
			}})
			var stdout bytes.Buffer

			code := run(context.Background(), "", []string{`{"service": "openvpn"}`}, &stdout)
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}

			var doc map[string]interface{}
			if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
				t.Fatalf("stdout is not a JSON document: %v", err)
			}
			if doc["success"] != tt.success {
				t.Errorf("success = %v, want %v", doc["success"], tt.success)
			}
			if !strings.Contains(stdout.String(), "\n  \"") {
				t.Error("document should be indented")
			}
		})
	}
}

func TestRunRecoversPanic(t *testing.T) {
	withHandler(t, &fakeHandler{panics: true})
	var stdout bytes.Buffer

	code := run(context.Background(), "", []string{"{}"}, &stdout)

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("stdout is not a JSON document: %v\n%s", err, stdout.String())
	}
	if doc["success"] != false {
		t.Errorf("success = %v, want false", doc["success"])
	}
	if msg, _ := doc["error"].(string); !strings.Contains(msg, "unexpected failure") {
		t.Errorf("error = %q", msg)
	}
}
