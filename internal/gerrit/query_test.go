package gerrit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerrit-ai-review/gerrit-trigger/internal/sshconn"
)

func TestQueryCommand(t *testing.T) {
	assert.Equal(t,
		`gerrit query --format=JSON --patch-sets --current-patch-set --files "is:open project:platform/build"`,
		QueryCommand("is:open project:platform/build"))
	assert.Equal(t,
		`gerrit query --format=JSON --patch-sets --current-patch-set --files "message:\"fix \*\""`,
		QueryCommand(`message:"fix *"`))
}

func TestEscapeMessage(t *testing.T) {
	assert.Equal(t, `ok`, EscapeMessage("ok"))
	assert.Equal(t, `say \"hi\"`, EscapeMessage(`say "hi"`))
	assert.Equal(t, `path C:\\tmp\\`, EscapeMessage(`path C:\tmp\`))
}

func TestQuery_ReturnsAllRecords(t *testing.T) {
	d := newFakeDialer().onQuery("is:open", fixture{number: 1}.line(), "", fixture{number: 2}.line(), trailer(2))
	c := NewQueryClient(d, QueryOptions{})

	records, err := c.Query(context.Background(), "is:open")
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.True(t, records[0].HasProject())
	assert.Equal(t, 3, records[1].Line)
	assert.True(t, records[2].IsTrailer())
	assert.True(t, d.balanced(), "connection must be closed")
}

func TestQuery_MalformedLine(t *testing.T) {
	d := newFakeDialer().onQuery("is:open", fixture{number: 1}.line(), `{"project":"broken"`, trailer(2))
	c := NewQueryClient(d, QueryOptions{})

	_, err := c.Query(context.Background(), "is:open")

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, pe.Line)
	assert.False(t, IsConnectionError(err))
	assert.True(t, d.balanced(), "connection must be closed on protocol errors")
}

func TestQuery_GerritErrorRecord(t *testing.T) {
	d := newFakeDialer().onQuery("is:open", `{"type":"error","message":"Unsupported query:foo"}`)
	c := NewQueryClient(d, QueryOptions{})

	_, err := c.Query(context.Background(), "is:open")

	require.True(t, IsProtocolError(err))
	assert.Contains(t, err.Error(), "Unsupported query:foo")
}

func TestQuery_ConnectionErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(d *fakeDialer)
		op    string
	}{
		{"dial refused", func(d *fakeDialer) { d.dialErr = errors.New("connection refused") }, "dial"},
		{"exec failure", func(d *fakeDialer) {
			d.responses[QueryCommand("is:open")] = fakeResponse{execErr: errors.New("channel open failed")}
		}, "exec"},
		{"remote failure", func(d *fakeDialer) {
			d.responses[QueryCommand("is:open")] = fakeResponse{stderr: "fatal: not authorized", waitErr: &sshconn.ExitError{Status: 1}}
		}, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer()
			tt.setup(d)
			c := NewQueryClient(d, QueryOptions{})

			records, err := c.Query(context.Background(), "is:open")

			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.op, ce.Op)
			assert.Nil(t, records)
			assert.True(t, d.balanced())
		})
	}
}

func TestQuery_RemoteFailureIncludesStderr(t *testing.T) {
	d := newFakeDialer()
	d.responses[QueryCommand("is:open")] = fakeResponse{stderr: "fatal: not authorized", waitErr: &sshconn.ExitError{Status: 1}}

	_, err := NewQueryClient(d, QueryOptions{}).Query(context.Background(), "is:open")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal: not authorized")
}

func TestQuery_CommandTimeout(t *testing.T) {
	d := newFakeDialer()
	d.responses[QueryCommand("is:open")] = fakeResponse{hang: true}
	c := NewQueryClient(d, QueryOptions{CommandTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Query(context.Background(), "is:open")

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "timeout", ce.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, d.balanced())
}

func TestQuery_TimeoutMidLine(t *testing.T) {
	d := newFakeDialer()
	d.responses[QueryCommand("is:open")] = fakeResponse{
		stdout:     `{"project":"p","id":"I1`,
		hang:       true,
		eofOnClose: true,
	}
	c := NewQueryClient(d, QueryOptions{CommandTimeout: 50 * time.Millisecond})

	_, err := c.Query(context.Background(), "is:open")

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "timeout", ce.Op)
	assert.False(t, IsProtocolError(err))
	assert.True(t, d.balanced())
}

func TestSendCommand(t *testing.T) {
	const cmd = `gerrit review --message "ok" --verified +1 1,1`

	tests := []struct {
		name    string
		resp    *fakeResponse
		dialErr error
		wantOK  bool
		wantErr bool
	}{
		{"accepted", &fakeResponse{}, nil, true, false},
		{"rejected", &fakeResponse{stderr: "fatal: change not found", waitErr: &sshconn.ExitError{Status: 1}}, nil, false, false},
		{"transport failure", &fakeResponse{waitErr: errors.New("connection reset")}, nil, false, true},
		{"dial failure", nil, errors.New("no route to host"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer()
			d.dialErr = tt.dialErr
			if tt.resp != nil {
				d.responses[cmd] = *tt.resp
			}

			ok, err := NewQueryClient(d, QueryOptions{}).SendCommand(context.Background(), cmd)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr {
				assert.True(t, IsConnectionError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, d.balanced())
		})
	}
}
