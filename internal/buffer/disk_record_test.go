package buffer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/conduit/core/event"
)

func TestEncodeDecodeRecordRoundTripsLog(t *testing.T) {
	arr := event.NewEventArray(event.KindLog)
	l := event.NewLog()
	l.Set("msg", event.Bytes("hello"))
	l.Set("count", event.Int64(42))
	l.Set("ratio", event.MustFloat64(0.5))
	l.Set("ok", event.Bool(true))
	nested := event.NewObject()
	nested.Set("inner", event.Int64(1))
	l.Set("nested", nested)
	l.Set("tags", event.Array{event.Bytes("a"), event.Bytes("b")})
	arr.Push(event.NewLogEvent(l))

	frame, err := encodeRecord(7, arr)
	require.NoError(t, err)

	recordID, decoded, frameLen, err := decodeRecord(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, uint64(7), recordID)
	require.Equal(t, len(frame), frameLen)
	require.Equal(t, 1, decoded.Len())

	got, ok := decoded.At(0).AsLog()
	require.True(t, ok)
	msg, _ := got.Get("msg")
	require.Equal(t, event.Bytes("hello"), msg)
	count, _ := got.Get("count")
	require.Equal(t, event.Int64(42), count)
}

func TestEncodeDecodeRecordRoundTripsMetric(t *testing.T) {
	arr := event.NewEventArray(event.KindMetric)
	tags := event.MetricTags{}
	tags.Insert("host", "a")
	m := &event.Metric{
		Series: event.Series{Name: "requests", Tags: tags},
		Kind:   event.MetricAbsolute,
		Value:  event.CounterValue{Value: 3.5},
	}
	arr.Push(event.NewMetricEvent(m))

	frame, err := encodeRecord(1, arr)
	require.NoError(t, err)

	_, decoded, _, err := decodeRecord(bytes.NewReader(frame))
	require.NoError(t, err)

	got, ok := decoded.At(0).AsMetric()
	require.True(t, ok)
	require.Equal(t, "requests", got.Series.Name)
	cv, ok := got.Value.(event.CounterValue)
	require.True(t, ok)
	require.Equal(t, 3.5, cv.Value)
	host, ok := got.Series.Tags.Get("host")
	require.True(t, ok)
	require.Equal(t, "a", host)
}

func TestDecodeRecordDetectsCorruption(t *testing.T) {
	arr := event.NewEventArray(event.KindLog)
	arr.Push(event.NewLogEvent(event.NewLog()))

	frame, err := encodeRecord(1, arr)
	require.NoError(t, err)

	corrupt := append([]byte(nil), frame...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, _, _, err = decodeRecord(bytes.NewReader(corrupt))
	require.Error(t, err)
}

func TestDecodeRecordReturnsEOFOnTruncatedFrame(t *testing.T) {
	arr := event.NewEventArray(event.KindLog)
	arr.Push(event.NewLogEvent(event.NewLog()))

	frame, err := encodeRecord(1, arr)
	require.NoError(t, err)

	truncated := frame[:len(frame)-2]
	_, _, _, err = decodeRecord(bytes.NewReader(truncated))
	require.ErrorIs(t, err, io.EOF)
}
