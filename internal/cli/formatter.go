package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/gerrit"
	"github.com/gerrit-ai-review/gerrit-trigger/internal/logger"
)

// Response represents the standard response format for all gerrit-trigger commands
type Response struct {
	Success  bool             `json:"success"`
	Data     interface{}      `json:"data,omitempty"`
	Metadata ResponseMetadata `json:"metadata"`
	Error    *ErrorInfo       `json:"error,omitempty"`
}

// ResponseMetadata contains metadata about the response
type ResponseMetadata struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Command    string    `json:"command,omitempty"`
	Version    string    `json:"version,omitempty"`
}

// ErrorInfo contains error information
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Formatter handles output formatting for different output types
type Formatter interface {
	Format(response *Response) (string, error)
}

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Pretty bool
}

// Format formats the response as JSON
func (f *JSONFormatter) Format(response *Response) (string, error) {
	var data []byte
	var err error

	if f.Pretty {
		data, err = json.MarshalIndent(response, "", "  ")
	} else {
		data, err = json.Marshal(response)
	}

	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(data), nil
}

// TextFormatter formats output as human-readable text
type TextFormatter struct{}

// Format formats the response as human-readable text
func (f *TextFormatter) Format(response *Response) (string, error) {
	if !response.Success {
		return formatError(response.Error), nil
	}

	switch data := response.Data.(type) {
	case nil:
		return "", nil
	case string:
		return data, nil
	case *gerrit.Change:
		if data == nil {
			return "No matching change", nil
		}
		return formatChange(data), nil
	case []*gerrit.Change:
		if len(data) == 0 {
			return "No matching changes", nil
		}
		lines := make([]string, 0, len(data))
		for _, c := range data {
			lines = append(lines, formatChangeLine(c))
		}
		return strings.Join(lines, "\n"), nil
	default:
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", data), nil
		}
		return string(jsonData), nil
	}
}

// formatChangeLine renders one change as a single list row
func formatChangeLine(c *gerrit.Change) string {
	return fmt.Sprintf("%-7d %-3d V%+d CR%+d  %-24s %s",
		c.Number, c.LastPatchSetNumber(), c.VerificationScore, c.ReviewScore, c.Project, c.Subject)
}

// formatChange renders the details of one change
func formatChange(c *gerrit.Change) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Change %d: %s\n", c.Number, c.Subject)
	fmt.Fprintf(&sb, "Project:    %s (%s)\n", c.Project, c.Branch)
	fmt.Fprintf(&sb, "Change-Id:  %s\n", c.ID)
	fmt.Fprintf(&sb, "Status:     %s\n", c.Status)
	fmt.Fprintf(&sb, "Owner:      %s\n", accountString(c.Owner))
	if c.URL != "" {
		fmt.Fprintf(&sb, "URL:        %s\n", c.URL)
	}
	fmt.Fprintf(&sb, "Updated:    %s\n", c.LastUpdate.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Patch set:  %d (%s)\n", c.LastPatchSetNumber(), c.LastRevision())
	fmt.Fprintf(&sb, "Verified:   %+d\n", c.VerificationScore)
	fmt.Fprintf(&sb, "Review:     %+d", c.ReviewScore)

	if files := c.CurrentPatchSet.Files; len(files) > 0 {
		sb.WriteString("\nFiles:")
		for _, f := range files {
			fmt.Fprintf(&sb, "\n  %s %s", f.ChangeType, f.Path)
		}
	}
	return sb.String()
}

func accountString(a gerrit.Account) string {
	if a.Email == "" {
		return a.Name
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// formatError formats an error for text output
func formatError(err *ErrorInfo) string {
	if err == nil {
		return "Unknown error"
	}

	result := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Details != "" {
		result += fmt.Sprintf("\nDetails: %s", err.Details)
	}
	return result
}

// NewFormatter creates a new formatter based on the format type
func NewFormatter(format string, pretty bool) Formatter {
	switch format {
	case "json":
		return &JSONFormatter{Pretty: pretty}
	case "text":
		return &TextFormatter{}
	default:
		return &TextFormatter{}
	}
}

// errorCode classifies an error for the response envelope
func errorCode(err error) string {
	switch {
	case gerrit.IsConnectionError(err):
		return "CONNECTION_ERROR"
	case gerrit.IsProtocolError(err):
		return "PROTOCOL_ERROR"
	default:
		return "COMMAND_ERROR"
	}
}

// ExecuteCommand wraps command execution with standard response formatting and
// error handling, writing the formatted response to w
func ExecuteCommand(w io.Writer, format string, command string, fn func() (interface{}, error)) error {
	log := logger.Get()
	startTime := time.Now()

	log.Debugf("Executing: %s", command)

	response := &Response{
		Success: true,
		Metadata: ResponseMetadata{
			Timestamp: startTime,
			Command:   command,
			Version:   version,
		},
	}

	data, err := fn()

	response.Metadata.DurationMs = time.Since(startTime).Milliseconds()

	if err != nil {
		response.Success = false
		response.Error = &ErrorInfo{
			Message: err.Error(),
			Code:    errorCode(err),
		}
	} else {
		response.Data = data
	}

	log.Debugf("%s completed in %dms (success=%v)", command, response.Metadata.DurationMs, response.Success)

	formatter := NewFormatter(format, true)
	output, ferr := formatter.Format(response)
	if ferr != nil {
		return fmt.Errorf("failed to format output: %w", ferr)
	}

	if output != "" {
		fmt.Fprintln(w, output)
	}

	// Return error if command failed (for proper exit code)
	if err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}

	return nil
}
