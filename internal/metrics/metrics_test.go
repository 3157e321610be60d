package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"svyaz/internal/models"

	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	m.SetOnlineUsers(3)
	m.SetActiveCalls(1)
	m.MessageStored(models.MessageKindText)
	m.MessageStored(models.MessageKindText)
	m.MessageStored(models.MessageKindVideoCall)
	m.CallEvent(CallInitiated)
	m.SignalDropped(models.ServerMessageTypeICECandidate)
	m.PersistenceFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, "svyaz_online_users 3")
	require.Contains(t, body, "svyaz_active_calls 1")
	require.Contains(t, body, `svyaz_messages_total{kind="text"} 2`)
	require.Contains(t, body, `svyaz_messages_total{kind="video_call"} 1`)
	require.Contains(t, body, `svyaz_calls_total{result="initiated"} 1`)
	require.Contains(t, body, `svyaz_signaling_dropped_total{event="ice-candidate"} 1`)
	require.Contains(t, body, "svyaz_persistence_failures_total 1")
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.SetOnlineUsers(1)
	m.CallEvent(CallEnded)
	m.PersistenceFailed()
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
