package saga

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLoggerRoundTripsEvents(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(zap.NewNop())

	require.NoError(t, l.LogEvent(ctx, "deploy", "c1", FlowStartedEvent{
		BaseEvent:  NewBaseEvent(FlowStarted, "g1"),
		Flow:       "deploy",
		StartField: "name",
	}))
	require.NoError(t, l.LogEvent(ctx, "deploy", "c1", FieldAcceptedEvent{
		BaseEvent: NewBaseEvent(FieldAccepted, "g1"),
		Flow:      "deploy",
		Field:     "name",
		Value:     "Doge",
		NextField: "symbol",
	}))
	require.NoError(t, l.LogEvent(ctx, "deploy", "c1", FieldRejectedEvent{
		BaseEvent: NewBaseEvent(FieldRejected, "g1"),
		Flow:      "deploy",
		Field:     "symbol",
		Reason:    "too short",
	}))

	all, err := l.GetEvents(ctx, "deploy", "c1", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	started, ok := all[0].(*FlowStartedEvent)
	require.True(t, ok)
	assert.Equal(t, "name", started.StartField)

	rejected, err := l.GetLastEvent(ctx, "deploy", "c1", FieldRejected)
	require.NoError(t, err)
	assert.Equal(t, "too short", rejected.(*FieldRejectedEvent).Reason)

	_, err = l.GetLastEvent(ctx, "deploy", "c1", ChainAction)
	assert.Error(t, err)

	other, err := l.GetEvents(ctx, "deploy", "c2", nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAcceptedValuesFiltersByGeneration(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(zap.NewNop())

	for _, e := range []FieldAcceptedEvent{
		{BaseEvent: NewBaseEvent(FieldAccepted, "old"), Field: "name", Value: "Old"},
		{BaseEvent: NewBaseEvent(FieldAccepted, "new"), Field: "name", Value: "New"},
		{BaseEvent: NewBaseEvent(FieldAccepted, "new"), Field: "symbol", Value: "NEW"},
	} {
		require.NoError(t, l.LogEvent(ctx, "deploy", "c1", e))
	}

	values, err := l.GetAcceptedValues(ctx, "deploy", "c1", "new")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "New", "symbol": "NEW"}, values)

	latest, err := l.GetAcceptedValues(ctx, "deploy", "c1", "")
	require.NoError(t, err)
	assert.Equal(t, "New", latest["name"])
}

func TestParseEventsSkipsMalformedLines(t *testing.T) {
	content := []byte(`{"eventType":"FLOW_ENDED","timestamp":1,"flow":"launch","field":"wallet"}
not json
{"eventType":"SOMETHING_ELSE","timestamp":2}

{"eventType":"CHAIN_ACTION","timestamp":3,"flow":"launch","action":"launch","outcome":"wrong_chain"}
`)
	events, err := parseEvents(content, nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, FlowEnded, events[0].GetEventType())
	action := events[1].(*ChainActionEvent)
	assert.Equal(t, "wrong_chain", action.Outcome)
	assert.Equal(t, int64(3), action.GetTimestamp())

	only, err := parseEvents(content, []string{ChainAction}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, only, 1)
}

func TestNilLoggerDefaultsToNop(t *testing.T) {
	l := NewMemoryLogger(nil)
	require.NoError(t, l.LogEvent(context.Background(), "deploy", "c1", FlowStartedEvent{
		BaseEvent: NewBaseEvent(FlowStarted, "g1"),
		Flow:      "deploy",
	}))
	assert.NotNil(t, NewMinIOSagaLogger(nil, "bucket", nil).logger)
}

// fakeMinIO answers object GETs with getStatus/getCode and records PUT bodies.
type fakeMinIO struct {
	getStatus int
	getCode   string

	mu   sync.Mutex
	puts []string
}

func (f *fakeMinIO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(f.getStatus)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+f.getCode+
			`</Code><Message>fake</Message><RequestId>1</RequestId></Error>`)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.puts = append(f.puts, string(body))
		f.mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeMinIO) putBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

func newMinIOLogger(t *testing.T, fake *fakeMinIO) *MinIOSagaLogger {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:      credentials.NewStaticV4("key", "secret", ""),
		Region:     "us-east-1",
		MaxRetries: 1,
	})
	require.NoError(t, err)
	return NewMinIOSagaLogger(client, "unrug-agent-sagas", zap.NewNop())
}

func TestMinIOLogEventKeepsJournalWhenReadFails(t *testing.T) {
	fake := &fakeMinIO{getStatus: http.StatusInternalServerError, getCode: "InternalError"}
	l := newMinIOLogger(t, fake)

	err := l.LogEvent(context.Background(), "deploy", "c1", FlowStartedEvent{
		BaseEvent: NewBaseEvent(FlowStarted, "g1"),
		Flow:      "deploy",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read journal deploy/c1/saga.log")
	assert.Empty(t, fake.putBodies())
}

func TestMinIOLogEventStartsMissingJournal(t *testing.T) {
	fake := &fakeMinIO{getStatus: http.StatusNotFound, getCode: "NoSuchKey"}
	l := newMinIOLogger(t, fake)

	require.NoError(t, l.LogEvent(context.Background(), "deploy", "c1", FlowStartedEvent{
		BaseEvent: NewBaseEvent(FlowStarted, "g1"),
		Flow:      "deploy",
	}))
	puts := fake.putBodies()
	require.Len(t, puts, 1)
	assert.Contains(t, puts[0], `"eventType":"FLOW_STARTED"`)
}
