package buffer

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"time"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
)

// Record framing (spec.md §6.2, bit-exact):
//
//	+----+-----------------+----------+
//	|len | serialized body | crc32    |
//	+----+-----------------+----------+
//	 4B    variable          4B
//
// len is big-endian u32 of body's length. body is a canonical
// serialization of (record_id, event_array). crc32 is computed over
// len||body.

const (
	lengthPrefixSize = 4
	checksumSize     = 4
)

// recordBody is the gob-encoded payload framed by length+CRC. It flattens
// every Value variant into a tagged struct so gob never has to encode a
// Go interface — recursion through arbitrary nested Values is resolved
// before encoding, sidestepping gob's interface-registration requirement
// entirely.
type recordBody struct {
	RecordID uint64
	Kind     event.Kind
	Events   []eventDTO
}

type eventDTO struct {
	Kind   event.Kind
	Log    valueDTO
	Metric metricDTO
}

const (
	tagNull byte = iota
	tagBool
	tagInt64
	tagFloat64
	tagBytes
	tagTimestamp
	tagArray
	tagObject
)

type valueDTO struct {
	Tag       byte
	Bool      bool
	Int64     int64
	Float64   float64
	Bytes     []byte
	Timestamp time.Time
	Array     []valueDTO
	Keys      []string
	Values    []valueDTO
}

type metricDTO struct {
	SeriesName      string
	HasNamespace    bool
	SeriesNamespace string
	Tags            map[string]string
	Kind            event.MetricKind
	ValueTag        byte
	Scalar          float64
	SetValues       []string
	DistSamples     []sampleDTO
	DistStatistic   event.StatisticKind
	HistBuckets     []bucketDTO
	HistCount       uint64
	HistSum         float64
	SummaryQuantile []quantileDTO
	SummaryCount    uint64
	SummarySum      float64
	HasTimestamp    bool
	Timestamp       time.Time
}

type sampleDTO struct {
	Value float64
	Rate  uint32
}

type bucketDTO struct {
	UpperLimit float64
	Count      uint64
}

type quantileDTO struct {
	Quantile float64
	Value    float64
}

const (
	metricValueCounter byte = iota
	metricValueGauge
	metricValueSet
	metricValueDistribution
	metricValueAggHistogram
	metricValueAggSummary
)

func toValueDTO(v event.Value) valueDTO {
	switch val := v.(type) {
	case nil:
		return valueDTO{Tag: tagNull}
	case event.Null:
		return valueDTO{Tag: tagNull}
	case event.Bool:
		return valueDTO{Tag: tagBool, Bool: bool(val)}
	case event.Int64:
		return valueDTO{Tag: tagInt64, Int64: int64(val)}
	case event.Float64:
		return valueDTO{Tag: tagFloat64, Float64: val.Float64Value()}
	case event.Bytes:
		return valueDTO{Tag: tagBytes, Bytes: append([]byte(nil), val...)}
	case event.Timestamp:
		return valueDTO{Tag: tagTimestamp, Timestamp: time.Time(val)}
	case event.Array:
		arr := make([]valueDTO, len(val))
		for i, item := range val {
			arr[i] = toValueDTO(item)
		}
		return valueDTO{Tag: tagArray, Array: arr}
	case *event.Object:
		keys := val.Keys()
		vals := make([]valueDTO, len(keys))
		for i, k := range keys {
			fv, _ := val.Get(k)
			vals[i] = toValueDTO(fv)
		}
		return valueDTO{Tag: tagObject, Keys: keys, Values: vals}
	default:
		return valueDTO{Tag: tagNull}
	}
}

func fromValueDTO(d valueDTO) event.Value {
	switch d.Tag {
	case tagBool:
		return event.Bool(d.Bool)
	case tagInt64:
		return event.Int64(d.Int64)
	case tagFloat64:
		return event.MustFloat64(d.Float64)
	case tagBytes:
		return event.Bytes(d.Bytes)
	case tagTimestamp:
		return event.Timestamp(d.Timestamp)
	case tagArray:
		arr := make(event.Array, len(d.Array))
		for i, item := range d.Array {
			arr[i] = fromValueDTO(item)
		}
		return arr
	case tagObject:
		o := event.NewObject()
		for i, k := range d.Keys {
			o.Set(k, fromValueDTO(d.Values[i]))
		}
		return o
	default:
		return event.Null{}
	}
}

func toMetricDTO(m *event.Metric) metricDTO {
	dto := metricDTO{
		SeriesName: m.Series.Name,
		Tags:       m.Series.Tags.Snapshot(),
		Kind:       m.Kind,
	}
	if m.Series.Namespace != nil {
		dto.HasNamespace = true
		dto.SeriesNamespace = *m.Series.Namespace
	}
	if m.Timestamp != nil {
		dto.HasTimestamp = true
		dto.Timestamp = *m.Timestamp
	}
	switch v := m.Value.(type) {
	case event.CounterValue:
		dto.ValueTag = metricValueCounter
		dto.Scalar = v.Value
	case event.GaugeValue:
		dto.ValueTag = metricValueGauge
		dto.Scalar = v.Value
	case event.SetValue:
		dto.ValueTag = metricValueSet
		for member := range v.Values {
			dto.SetValues = append(dto.SetValues, member)
		}
	case event.DistributionValue:
		dto.ValueTag = metricValueDistribution
		dto.DistStatistic = v.Distribution.Statistic
		for _, s := range v.Distribution.Samples {
			dto.DistSamples = append(dto.DistSamples, sampleDTO{Value: s.Value, Rate: s.Rate})
		}
	case event.AggregatedHistogramValue:
		dto.ValueTag = metricValueAggHistogram
		dto.HistCount = v.Histogram.Count
		dto.HistSum = v.Histogram.Sum
		for _, b := range v.Histogram.Buckets {
			dto.HistBuckets = append(dto.HistBuckets, bucketDTO{UpperLimit: b.UpperLimit, Count: b.Count})
		}
	case event.AggregatedSummaryValue:
		dto.ValueTag = metricValueAggSummary
		dto.SummaryCount = v.Summary.Count
		dto.SummarySum = v.Summary.Sum
		for _, q := range v.Summary.Quantiles {
			dto.SummaryQuantile = append(dto.SummaryQuantile, quantileDTO{Quantile: q.Quantile, Value: q.Value})
		}
	}
	return dto
}

func fromMetricDTO(dto metricDTO) *event.Metric {
	m := &event.Metric{
		Series: event.Series{Name: dto.SeriesName, Tags: event.FromMultiValue(singleToMulti(dto.Tags))},
		Kind:   dto.Kind,
	}
	if dto.HasNamespace {
		ns := dto.SeriesNamespace
		m.Series.Namespace = &ns
	}
	if dto.HasTimestamp {
		ts := dto.Timestamp
		m.Timestamp = &ts
	}
	switch dto.ValueTag {
	case metricValueCounter:
		m.Value = event.CounterValue{Value: dto.Scalar}
	case metricValueGauge:
		m.Value = event.GaugeValue{Value: dto.Scalar}
	case metricValueSet:
		set := make(map[string]struct{}, len(dto.SetValues))
		for _, v := range dto.SetValues {
			set[v] = struct{}{}
		}
		m.Value = event.SetValue{Values: set}
	case metricValueDistribution:
		samples := make([]event.Sample, len(dto.DistSamples))
		for i, s := range dto.DistSamples {
			samples[i] = event.Sample{Value: s.Value, Rate: s.Rate}
		}
		m.Value = event.DistributionValue{Distribution: event.Distribution{Samples: samples, Statistic: dto.DistStatistic}}
	case metricValueAggHistogram:
		buckets := make([]event.HistogramBucket, len(dto.HistBuckets))
		for i, b := range dto.HistBuckets {
			buckets[i] = event.HistogramBucket{UpperLimit: b.UpperLimit, Count: b.Count}
		}
		m.Value = event.AggregatedHistogramValue{Histogram: event.AggregatedHistogram{Buckets: buckets, Count: dto.HistCount, Sum: dto.HistSum}}
	case metricValueAggSummary:
		quantiles := make([]event.SummaryQuantile, len(dto.SummaryQuantile))
		for i, q := range dto.SummaryQuantile {
			quantiles[i] = event.SummaryQuantile{Quantile: q.Quantile, Value: q.Value}
		}
		m.Value = event.AggregatedSummaryValue{Summary: event.AggregatedSummary{Quantiles: quantiles, Count: dto.SummaryCount, Sum: dto.SummarySum}}
	}
	return m
}

func singleToMulti(single map[string]string) map[string][]string {
	if len(single) == 0 {
		return nil
	}
	multi := make(map[string][]string, len(single))
	for k, v := range single {
		multi[k] = []string{v}
	}
	return multi
}

func toEventDTO(ev *event.Event) eventDTO {
	dto := eventDTO{Kind: ev.Kind}
	switch ev.Kind {
	case event.KindLog:
		if l, ok := ev.AsLog(); ok {
			dto.Log = toValueDTO(l.Value())
		}
	case event.KindTrace:
		if tr, ok := ev.AsTrace(); ok {
			dto.Log = toValueDTO(tr.AsLog().Value())
		}
	case event.KindMetric:
		if m, ok := ev.AsMetric(); ok {
			dto.Metric = toMetricDTO(m)
		}
	}
	return dto
}

func fromEventDTO(dto eventDTO) *event.Event {
	switch dto.Kind {
	case event.KindLog:
		l := event.NewLog()
		if obj, ok := fromValueDTO(dto.Log).(*event.Object); ok {
			obj.Range(func(k string, v event.Value) bool {
				l.Set(k, v)
				return true
			})
		}
		return event.NewLogEvent(l)
	case event.KindTrace:
		tr := event.NewTrace()
		if obj, ok := fromValueDTO(dto.Log).(*event.Object); ok {
			obj.Range(func(k string, v event.Value) bool {
				tr.AsLog().Set(k, v)
				return true
			})
		}
		return event.NewTraceEvent(tr)
	case event.KindMetric:
		return event.NewMetricEvent(fromMetricDTO(dto.Metric))
	default:
		return event.NewLogEvent(event.NewLog())
	}
}

// encodeRecord serializes arr as a framed record with recordID and returns
// the complete on-wire bytes (length prefix + body + CRC32).
func encodeRecord(recordID uint64, arr *event.EventArray) ([]byte, error) {
	body := recordBody{RecordID: recordID, Kind: arr.Kind()}
	for _, ev := range arr.Events() {
		body.Events = append(body.Events, toEventDTO(ev))
	}

	var bodyBuf bytes.Buffer
	if err := gob.NewEncoder(&bodyBuf).Encode(body); err != nil {
		return nil, errs.New("buffer/disk/record/encode", errs.Permanent, errs.WithCause(err))
	}

	lengthPrefix := make([]byte, lengthPrefixSize)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(bodyBuf.Len()))

	frame := make([]byte, 0, lengthPrefixSize+bodyBuf.Len()+checksumSize)
	frame = append(frame, lengthPrefix...)
	frame = append(frame, bodyBuf.Bytes()...)

	checksum := crc32.ChecksumIEEE(frame)
	checksumBytes := make([]byte, checksumSize)
	binary.BigEndian.PutUint32(checksumBytes, checksum)
	frame = append(frame, checksumBytes...)
	return frame, nil
}

// decodeRecord reads one framed record from r, validating its checksum. It
// returns io.EOF if r is exhausted before a whole frame (length prefix,
// body and checksum) can be read, and a Poison-kind error if the checksum
// does not match (a corrupt trailing record, per spec.md §4.2 integrity
// scan).
func decodeRecord(r io.Reader) (recordID uint64, arr *event.EventArray, frameLen int, err error) {
	lengthPrefix := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(r, lengthPrefix); err != nil {
		if err == io.ErrUnexpectedEOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, err
	}
	bodyLen := binary.BigEndian.Uint32(lengthPrefix)

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, 0, io.EOF
	}

	checksumBytes := make([]byte, checksumSize)
	if _, err := io.ReadFull(r, checksumBytes); err != nil {
		return 0, nil, 0, io.EOF
	}

	frame := make([]byte, 0, lengthPrefixSize+len(body))
	frame = append(frame, lengthPrefix...)
	frame = append(frame, body...)
	want := binary.BigEndian.Uint32(checksumBytes)
	got := crc32.ChecksumIEEE(frame)
	if want != got {
		return 0, nil, 0, errs.New("buffer/disk/record/decode", errs.Poison, errs.WithMessage("checksum mismatch"))
	}

	var decoded recordBody
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&decoded); err != nil {
		return 0, nil, 0, errs.New("buffer/disk/record/decode", errs.Poison, errs.WithCause(err))
	}

	out := event.NewEventArray(decoded.Kind)
	for _, dto := range decoded.Events {
		out.Push(fromEventDTO(dto))
	}
	return decoded.RecordID, out, lengthPrefixSize + len(body) + checksumSize, nil
}
