package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/vdavid/mailpilot/internal/auth"
	"github.com/vdavid/mailpilot/internal/llm"
)

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, url, body)
	return req.WithContext(auth.WithUserEmail(req.Context(), email))
}

// FailingResponseWriter is a ResponseWriter that fails on Write to test error handling.
type FailingResponseWriter struct {
	http.ResponseWriter
	WriteShouldFail bool
}

func (f *FailingResponseWriter) Write(p []byte) (int, error) {
	if f.WriteShouldFail {
		return 0, fmt.Errorf("write failed")
	}
	return f.ResponseWriter.Write(p)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handler http.Handler, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}

// mockCompleter is a testify mock of llm.Completer.
type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.Response)
	return resp, args.Error(1)
}
