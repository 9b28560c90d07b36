package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetEncodesQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`{"data":[{"valid_from":10000}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second, 100, 10)
	out, err := c.Do(context.Background(), Request{
		Path:   "123/" + ConfigsEdge,
		Params: map[string]any{"advertiser_ids": []string{"a", "b"}, "fields": ""},
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/123/aem_conversion_configs", got.URL.Path)
	assert.Equal(t, "tok", got.URL.Query().Get("access_token"))
	assert.Equal(t, `["a","b"]`, got.URL.Query().Get("advertiser_ids"))
	assert.NotEmpty(t, got.Header.Get("X-Request-ID"))

	data, ok := out["data"].([]any)
	require.True(t, ok)
	first := data[0].(map[string]any)
	assert.Equal(t, json.Number("10000"), first["valid_from"])
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", time.Second, 100, 10)
	out, err := c.Do(context.Background(), Request{
		Path:   "123/" + ConversionsEdge,
		Method: http.MethodPost,
		Params: map[string]any{"campaign_id": "c1"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "c1", body["campaign_id"])
	assert.Equal(t, "tok", body["access_token"])
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"non 2xx status", http.StatusInternalServerError, `{}`, ErrUnexpectedStatus},
		{"graph error payload", http.StatusOK, `{"error":{"message":"bad"}}`, nil},
		{"malformed body", http.StatusOK, `{"data":`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", time.Second, 100, 10)
			out, err := c.Do(context.Background(), Request{Path: "1/" + ConfigsEdge})
			assert.Nil(t, out)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestClient_CancelledContext(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, Request{Path: "1/" + ConfigsEdge})
	assert.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := NewStatic([]map[string]any{{"valid_from": 1}})

	out, err := s.Do(context.Background(), Request{Path: "app/" + ConfigsEdge})
	require.NoError(t, err)
	assert.Len(t, out["data"], 1)

	_, err = s.Do(context.Background(), Request{Path: "app/" + ConversionsEdge, Method: http.MethodPost})
	require.NoError(t, err)
	assert.Len(t, s.Sent(), 1)

	_, err = s.Do(context.Background(), Request{Path: "app/unknown"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}
