package ingest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubscriber(t *testing.T) *Subscriber {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub, err := NewSubscriber(nil, nil, "events.raw", logger)
	require.NoError(t, err)
	return sub
}

func TestDecodeValidEnvelope(t *testing.T) {
	sub := testSubscriber(t)
	ev, err := sub.Decode([]byte(`{
		"event_key": "cd:12:345",
		"event_time": "2026-08-25T10:00:00Z",
		"source": "WinEventLog:Security",
		"source_type": "WinEventLog",
		"host": "dc01",
		"payload": {"EventCode": "4625"},
		"raw_text": "An account failed to log on."
	}`))
	require.NoError(t, err)
	assert.Equal(t, "cd:12:345", ev.EventKey)
	assert.Equal(t, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC), ev.EventTime)
	assert.Equal(t, "dc01", ev.Host)
	assert.Equal(t, "WinEventLog", ev.SourceType)
	assert.JSONEq(t, `{"EventCode": "4625"}`, string(ev.Payload))
}

func TestDecodeEpochTime(t *testing.T) {
	sub := testSubscriber(t)
	ev, err := sub.Decode([]byte(`{"event_time": 1787997600.5, "source_type": "syslog"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1787997600), ev.EventTime.Unix())

	// Quoted epochs are accepted too.
	ev, err = sub.Decode([]byte(`{"event_time": "1787997600", "source_type": "syslog"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1787997600), ev.EventTime.Unix())
}

func TestDecodeDerivesStableKey(t *testing.T) {
	sub := testSubscriber(t)
	payload := []byte(`{"event_time": "2026-08-25T10:00:00Z", "source_type": "syslog", "raw_text": "hello"}`)

	a, err := sub.Decode(payload)
	require.NoError(t, err)
	b, err := sub.Decode(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, a.EventKey)
	assert.Equal(t, a.EventKey, b.EventKey)

	other, err := sub.Decode([]byte(`{"event_time": "2026-08-25T10:00:00Z", "source_type": "syslog", "raw_text": "bye"}`))
	require.NoError(t, err)
	assert.NotEqual(t, a.EventKey, other.EventKey)
}

func TestDecodeRejections(t *testing.T) {
	sub := testSubscriber(t)
	tests := []struct {
		name string
		data string
	}{
		{"not json", `not json at all`},
		{"missing source_type", `{"event_time": "2026-08-25T10:00:00Z"}`},
		{"missing event_time", `{"source_type": "syslog"}`},
		{"empty source_type", `{"event_time": "2026-08-25T10:00:00Z", "source_type": ""}`},
		{"unknown field", `{"event_time": "2026-08-25T10:00:00Z", "source_type": "syslog", "bogus": 1}`},
		{"unparseable time", `{"event_time": "yesterday", "source_type": "syslog"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sub.Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
