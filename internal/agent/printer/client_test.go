package printer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func octoStub(t *testing.T, apiKey string) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var commands []map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/printer", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != apiKey {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{
			"state": {"text": "Printing", "flags": {"operational": true, "printing": true}},
			"temperature": {"bed": {"actual": 60.1}, "tool0": {"actual": 210.4}}
		}`))
	})
	mux.HandleFunc("/api/job", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != apiKey {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method == http.MethodPost {
			var cmd map[string]string
			json.NewDecoder(r.Body).Decode(&cmd)
			commands = append(commands, cmd)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(`{
			"job": {"file": {"name": "benchy.gcode"}},
			"progress": {"completion": 42.5},
			"state": "Printing"
		}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &commands
}

func TestStatus(t *testing.T) {
	srv, _ := octoStub(t, "key-1")
	c := NewClient(srv.URL, "key-1")

	st, err := c.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Printing", st.Text)
	assert.True(t, st.Printing)
	assert.Equal(t, "benchy.gcode", st.FileName)
	assert.InDelta(t, 42.5, st.Progress, 0.001)
	assert.InDelta(t, 60.1, st.BedTemp, 0.001)
	assert.InDelta(t, 210.4, st.ToolTemp, 0.001)
}

func TestStatus_BadAPIKey(t *testing.T) {
	srv, _ := octoStub(t, "key-1")
	c := NewClient(srv.URL, "wrong")

	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJobCommands(t *testing.T) {
	srv, commands := octoStub(t, "key-1")
	c := NewClient(srv.URL, "key-1")

	require.NoError(t, c.Pause(context.Background()))
	require.NoError(t, c.Resume(context.Background()))
	require.NoError(t, c.Cancel(context.Background()))

	require.Len(t, *commands, 3)
	assert.Equal(t, map[string]string{"command": "pause", "action": "pause"}, (*commands)[0])
	assert.Equal(t, map[string]string{"command": "pause", "action": "resume"}, (*commands)[1])
	assert.Equal(t, map[string]string{"command": "cancel"}, (*commands)[2])
}

func TestJobCommand_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	err := c.Pause(context.Background())
	assert.ErrorIs(t, err, ErrConflict)
}
