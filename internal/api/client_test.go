package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solasola/internal/api"
	"solasola/internal/events"
	"solasola/internal/services"
)

func TestClientSubmitSendsTokenAndBody(t *testing.T) {
	var got api.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"task_id":"t-1"}`))
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.Listener.Addr().String(), "secret")
	require.NoError(t, err)
	resp, err := client.Submit(context.Background(), api.SubmitRequest{
		Files: []api.SubmitFile{{Path: "/in/song.mp3"}},
		Mode:  "lyrics_only",
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", resp.TaskID)
	assert.Equal(t, "/in/song.mp3", got.Files[0].Path)
	assert.Equal(t, "lyrics_only", got.Mode)
}

func TestClientMapsStatusCodesToSentinels(t *testing.T) {
	cases := []struct {
		code   int
		target error
	}{
		{http.StatusBadRequest, services.ErrValidation},
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusConflict, services.ErrBusy},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(`{"error":"nope","kind":"x","fields":{"mode":"oneof"}}`))
			}))
			defer srv.Close()

			client, err := api.NewClient(srv.URL, "")
			require.NoError(t, err)
			err = client.Cancel(context.Background(), "t-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)

			var apiErr *api.Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, "oneof", apiErr.Fields["mode"])
		})
	}
}

func TestClientModelsRefreshQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("refresh"))
		_, _ = w.Write([]byte(`{"models":[{"id":"genre-model","key":"default","installed":true}]}`))
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "")
	require.NoError(t, err)
	list, err := client.Models(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Installed)
}

func TestClientStreamEventsParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: task_update\ndata: {\"type\":\"task_update\",\"task_id\":\"t-1\"}\n\n")
	}))
	defer srv.Close()

	client, err := api.NewClient(srv.URL, "")
	require.NoError(t, err)
	var got []events.Event
	err = client.StreamEvents(context.Background(), func(evt events.Event) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.TypeHeartbeat, got[0].Type)
	assert.Equal(t, events.TypeTaskUpdate, got[1].Type)
	assert.Equal(t, "t-1", got[1].TaskID)
}

func TestIsAPIUnavailable(t *testing.T) {
	_, err := api.NewClient("  ", "")
	assert.True(t, api.IsAPIUnavailable(err))

	client, err := api.NewClient("127.0.0.1:1", "")
	require.NoError(t, err)
	_, err = client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsAPIUnavailable(err))
	assert.False(t, api.IsAPIUnavailable(&api.Error{StatusCode: 500}))
}
