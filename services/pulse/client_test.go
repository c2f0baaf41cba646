package pulse

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracely/pulse/pkg/testutil"
)

func newTestAPIClient(mock *testutil.MockHTTPClient) *APIClient {
	return NewAPIClient(ClientConfig{
		BaseURL:     "http://api.test/",
		Token:       "secret",
		OrgSlug:     "acme",
		ProjectSlug: "shop",
	}, mock, testutil.DiscardLogger())
}

func TestClampHistoryLimit(t *testing.T) {
	assert.Equal(t, 50, ClampHistoryLimit(0))
	assert.Equal(t, 50, ClampHistoryLimit(-3))
	assert.Equal(t, 1, ClampHistoryLimit(1))
	assert.Equal(t, 200, ClampHistoryLimit(200))
	assert.Equal(t, 200, ClampHistoryLimit(5000))
}

func TestAPIClient_History(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	newest := newSpan("b", "", 20, 5)
	oldest := newSpan("a", "", 10, 5)
	mock.AddResponse(testutil.MockEnvelope([]Span{newest, oldest}, map[string]any{
		"has_more":         true,
		"oldest_timestamp": "2025-03-14T12:00:00.010",
	}))

	client := newTestAPIClient(mock)
	before := testEpoch.Add(time.Minute)
	page, err := client.History(context.Background(), HistoryQuery{Before: before, Limit: 500})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, spanIDs(page.Spans))
	assert.True(t, page.HasMore)
	assert.True(t, page.OldestTimestamp.Equal(testEpoch.Add(10*time.Millisecond)))

	req := mock.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "/api/orgs/acme/projects/shop/spans", req.URL.Path)
	assert.Equal(t, "200", req.URL.Query().Get("limit"))
	assert.Equal(t, before.UTC().Format(time.RFC3339Nano), req.URL.Query().Get("before"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestAPIClient_History_EmptyPage(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	mock.AddResponse(testutil.MockEnvelope(nil, map[string]any{"has_more": false}))

	page, err := newTestAPIClient(mock).History(context.Background(), HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Spans)
	assert.NotNil(t, page.Spans)
	assert.False(t, page.HasMore)
	assert.Empty(t, mock.LastRequest().URL.Query().Get("before"))
	assert.Equal(t, "50", mock.LastRequest().URL.Query().Get("limit"))
}

func TestAPIClient_SpanDetail(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	detail := SpanDetail{Span: newSpan("a", "", 0, 10), Framework: "fastapi", RequestBody: `{"q":1}`}
	mock.AddResponse(testutil.MockEnvelope(detail, nil))

	got, err := newTestAPIClient(mock).SpanDetail(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "fastapi", got.Framework)
	assert.Equal(t, "a", got.SpanID)
	assert.Equal(t, "/api/orgs/acme/projects/shop/spans/a", mock.LastRequest().URL.Path)
}

func TestAPIClient_Errors(t *testing.T) {
	tests := []struct {
		name       string
		response   testutil.MockResponse
		wantCode   string
		wantStatus int
		notFound   bool
	}{
		{
			name:       "error envelope",
			response:   testutil.MockErrorResponse(http.StatusNotFound, "NOT_FOUND", "span not found"),
			wantCode:   "NOT_FOUND",
			wantStatus: http.StatusNotFound,
			notFound:   true,
		},
		{
			name:       "plain body",
			response:   testutil.MockResponse{StatusCode: http.StatusBadGateway, Body: "upstream down"},
			wantCode:   "HTTP_502",
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "connection failure",
			response:   testutil.MockConnectionError(),
			wantCode:   CodeNetworkError,
			wantStatus: 0,
		},
		{
			name:       "malformed json",
			response:   testutil.MockMalformedJSON(),
			wantCode:   CodeDecodeError,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockHTTPClient()
			mock.AddResponse(tt.response)

			_, err := newTestAPIClient(mock).SpanDetail(context.Background(), "x")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.NotEmpty(t, apiErr.Message)
			assert.Equal(t, tt.notFound, IsNotFound(err))
		})
	}
}

func TestAPIClient_RequiresSlugs(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	client := NewAPIClient(ClientConfig{BaseURL: "http://api.test"}, mock, nil)

	_, err := client.History(context.Background(), HistoryQuery{})
	require.Error(t, err)
	assert.Empty(t, mock.Requests())
}

func TestAPIClient_DashboardHealth(t *testing.T) {
	mock := testutil.NewMockHTTPClient()
	mock.AddResponse(testutil.MockEnvelope(map[string]any{"status": "ok"}, nil))

	got, err := newTestAPIClient(mock).DashboardHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "/api/orgs/acme/projects/shop/health", mock.LastRequest().URL.Path)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errStreamEnded))
	assert.True(t, IsRetryable(&APIError{Code: CodeNetworkError}))
	assert.True(t, IsRetryable(&APIError{Status: 503}))
	assert.True(t, IsRetryable(&APIError{Status: 429}))
	assert.False(t, IsRetryable(&APIError{Status: 401}))
	assert.False(t, IsRetryable(&APIError{Status: 404}))
}

func TestAPIError_Error(t *testing.T) {
	assert.Equal(t, "NETWORK_ERROR: refused", (&APIError{Code: CodeNetworkError, Message: "refused"}).Error())
	assert.Equal(t, "NOT_FOUND (404): gone", (&APIError{Code: "NOT_FOUND", Status: 404, Message: "gone"}).Error())
}
