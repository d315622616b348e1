package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github-visibility-bot/internal/errors"
)

// MockPinger is a mock implementation of the store health probe.
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockReceiver is a mock implementation of the webhook receiver.
type MockReceiver struct {
	mock.Mock
}

func (m *MockReceiver) Receive(r *http.Request) error {
	return m.Called(r).Error(0)
}

func newRouter(p Pinger, w WebhookReceiver) http.Handler {
	return NewRouter(p, w, "s3cret", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHealthCheck(t *testing.T) {
	pinger := new(MockPinger)
	pinger.On("Ping", mock.Anything).Return(nil).Once()
	pinger.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	router := newRouter(pinger, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestTelegramWebhook(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		receiveErr error
		wantCode   int
	}{
		{"accepted", "/telegram/s3cret", nil, http.StatusOK},
		{"wrong secret", "/telegram/guess", nil, http.StatusNotFound},
		{"bad payload", "/telegram/s3cret", apperrors.New(apperrors.ErrValidation, "invalid update"), http.StatusBadRequest},
		{"queue full", "/telegram/s3cret", apperrors.New(apperrors.ErrTransient, "update queue is full"), http.StatusServiceUnavailable},
		{"unexpected", "/telegram/s3cret", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			receiver := new(MockReceiver)
			receiver.On("Receive", mock.Anything).Return(tc.receiveErr)
			router := newRouter(new(MockPinger), receiver)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{"update_id":1}`)))

			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == http.StatusNotFound {
				receiver.AssertNotCalled(t, "Receive", mock.Anything)
			}
		})
	}
}

func TestTelegramWebhook_NotMountedInPollingMode(t *testing.T) {
	router := newRouter(new(MockPinger), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/s3cret", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
