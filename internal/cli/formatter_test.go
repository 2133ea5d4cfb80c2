package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
)

func TestJSONFormatter(t *testing.T) {
	formatter := &JSONFormatter{Pretty: false}

	tests := []struct {
		name     string
		response *Response
		wantErr  bool
	}{
		{
			name: "success response",
			response: &Response{
				Success: true,
				Data:    map[string]string{"key": "value"},
				Metadata: ResponseMetadata{
					Timestamp:  time.Now(),
					DurationMs: 100,
				},
			},
			wantErr: false,
		},
		{
			name: "error response",
			response: &Response{
				Success: false,
				Error: &ErrorInfo{
					Message: "test error",
					Code:    "TEST_ERROR",
				},
				Metadata: ResponseMetadata{
					Timestamp: time.Now(),
				},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := formatter.Format(tt.response)
			if (err != nil) != tt.wantErr {
				t.Errorf("Format() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			// Verify it's valid JSON
			var result map[string]interface{}
			if err := json.Unmarshal([]byte(output), &result); err != nil {
				t.Errorf("Output is not valid JSON: %v", err)
			}

			if success, ok := result["success"].(bool); !ok || success != tt.response.Success {
				t.Errorf("success field mismatch: got %v, want %v", success, tt.response.Success)
			}
		})
	}
}

func sampleChange() *gerrit.Change {
	return &gerrit.Change{
		Project:           "platform/build",
		Branch:            "main",
		ID:                "I0123456789abcdef0123456789abcdef01234567",
		Number:            101,
		Subject:           "Fix flaky test",
		Status:            gerrit.StatusNew,
		Owner:             gerrit.Account{Name: "Jo Dev", Email: "jo@example.com"},
		LastUpdate:        time.Unix(1700000000, 0).UTC(),
		VerificationScore: -1,
		ReviewScore:       2,
		CurrentPatchSet:   gerrit.PatchSet{Number: 3, Revision: "deadbeef"},
	}
}

func TestTextFormatter(t *testing.T) {
	formatter := &TextFormatter{}

	tests := []struct {
		name     string
		response *Response
		contains []string
	}{
		{
			name:     "success with string data",
			response: &Response{Success: true, Data: "test output"},
			contains: []string{"test output"},
		},
		{
			name: "error response",
			response: &Response{
				Success: false,
				Error:   &ErrorInfo{Message: "test error", Code: "TEST_ERROR"},
			},
			contains: []string{"Error [TEST_ERROR]: test error"},
		},
		{
			name:     "single change",
			response: &Response{Success: true, Data: sampleChange()},
			contains: []string{"Change 101: Fix flaky test", "platform/build (main)", "Jo Dev <jo@example.com>", "Patch set:  3 (deadbeef)", "Verified:   -1"},
		},
		{
			name:     "no change",
			response: &Response{Success: true, Data: (*gerrit.Change)(nil)},
			contains: []string{"No matching change"},
		},
		{
			name:     "change list",
			response: &Response{Success: true, Data: []*gerrit.Change{sampleChange()}},
			contains: []string{"101", "V-1", "CR+2", "Fix flaky test"},
		},
		{
			name:     "empty change list",
			response: &Response{Success: true, Data: []*gerrit.Change{}},
			contains: []string{"No matching changes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := formatter.Format(tt.response)
			if err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(output, want) {
					t.Errorf("output %q does not contain %q", output, want)
				}
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   Formatter
	}{
		{name: "json formatter", format: "json", want: &JSONFormatter{}},
		{name: "text formatter", format: "text", want: &TextFormatter{}},
		{name: "default to text", format: "unknown", want: &TextFormatter{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := NewFormatter(tt.format, true)
			switch tt.want.(type) {
			case *JSONFormatter:
				if _, ok := formatter.(*JSONFormatter); !ok {
					t.Errorf("got %T, want *JSONFormatter", formatter)
				}
			case *TextFormatter:
				if _, ok := formatter.(*TextFormatter); !ok {
					t.Errorf("got %T, want *TextFormatter", formatter)
				}
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&gerrit.ConnectionError{Op: "dial", Err: errors.New("refused")}, "CONNECTION_ERROR"},
		{&gerrit.ProtocolError{Field: "id", Reason: "missing"}, "PROTOCOL_ERROR"},
		{errors.New("boom"), "COMMAND_ERROR"},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestExecuteCommand(t *testing.T) {
	t.Run("success json", func(t *testing.T) {
		var buf bytes.Buffer
		err := ExecuteCommand(&buf, "json", "next", func() (interface{}, error) {
			return sampleChange(), nil
		})
		if err != nil {
			t.Fatalf("ExecuteCommand() error = %v", err)
		}

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				Number int `json:"number"`
			} `json:"data"`
			Metadata ResponseMetadata `json:"metadata"`
		}
		if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if !resp.Success || resp.Data.Number != 101 || resp.Metadata.Command != "next" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("failure is returned and printed", func(t *testing.T) {
		var buf bytes.Buffer
		cause := &gerrit.ConnectionError{Op: "dial", Err: errors.New("refused")}
		err := ExecuteCommand(&buf, "text", "verify", func() (interface{}, error) {
			return nil, cause
		})
		if !errors.Is(err, cause) {
			t.Fatalf("error = %v, want wrapped %v", err, cause)
		}
		if !strings.Contains(buf.String(), "CONNECTION_ERROR") {
			t.Errorf("output %q lacks error code", buf.String())
		}
	})
}
