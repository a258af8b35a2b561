package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func testSpanContext(t *testing.T, spanByte byte) trace.SpanContext {
	t.Helper()
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10},
		SpanID:     trace.SpanID{0, 0, 0, 0, 0, 0, 0, spanByte},
		TraceFlags: trace.FlagsSampled,
	})
}

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []SpanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(path)
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestFileExporter_RecordShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)
	stub := tracetest.SpanStub{
		Name:        "handler.set_server",
		SpanContext: testSpanContext(t, 2),
		Parent:      testSpanContext(t, 1),
		SpanKind:    trace.SpanKindServer,
		StartTime:   start,
		EndTime:     start.Add(1500 * time.Microsecond),
		Status:      sdktrace.Status{Code: codes.Error, Description: "Request was incorrect"},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrCommandName, "set_server"),
			attribute.String(AttrSessionPhase, "Unconfigured"),
		},
		Events: []sdktrace.Event{{
			Name:       EventResponseReceived,
			Time:       start.Add(time.Millisecond),
			Attributes: []attribute.KeyValue{attribute.Int("status", 400)},
		}},
	}

	require.NoError(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exporter.Shutdown(context.Background()))

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	rec := recs[0]
	require.Equal(t, "handler.set_server", rec.Name)
	require.Equal(t, "server", rec.Kind)
	require.Equal(t, "Error", rec.Status)
	require.Equal(t, "Request was incorrect", rec.Error)
	require.Equal(t, "0000000000000001", rec.ParentID)
	require.Equal(t, "set_server", rec.Command)
	require.Equal(t, "Unconfigured", rec.Phase)
	require.True(t, start.Equal(rec.Start))
	require.InDelta(t, 1.5, rec.DurationMs, 0.001)
	require.Equal(t, "set_server", rec.Attributes[AttrCommandName])
	require.Len(t, rec.Events, 1)
	require.Equal(t, float64(400), rec.Events[0].Attributes["status"])
}

func TestFileExporter_RedactsPasswords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:        "command.exit_exam",
		SpanContext: testSpanContext(t, 4),
		Attributes: []attribute.KeyValue{
			attribute.String("args.password", "hunter2"),
			attribute.String(AttrCommandName, "exit_exam"),
		},
		Events: []sdktrace.Event{{
			Name:       EventRequestSent,
			Attributes: []attribute.KeyValue{attribute.String("Password", "hunter2")},
		}},
	}
	require.NoError(t, exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exporter.Shutdown(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "hunter2")

	rec := readRecords(t, path)[0]
	require.Equal(t, Redacted, rec.Attributes["args.password"])
	require.Equal(t, Redacted, rec.Events[0].Attributes["Password"])
	require.Equal(t, "exit_exam", rec.Command)
}

func TestFileExporter_EmptyBatchIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(path)
	require.NoError(t, err)

	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.Empty(t, readRecords(t, path))
}

func TestFileExporter_ExportAfterShutdownFails(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	stub := tracetest.SpanStub{Name: "late", SpanContext: testSpanContext(t, 3)}
	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.Error(t, err)
}

func TestRecordError_SetsStatusAndAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := StartHandler(context.Background(), tp.Tracer("test"), "exit_exam", "id-9")
	RecordError(span, errors.New("Couldn't find password in store"), "rejected")
	RecordError(span, nil, "ignored")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "handler.exit_exam", ended[0].Name())
	require.Equal(t, codes.Error, ended[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "rejected", attrs[AttrErrorKind])
	require.Equal(t, "id-9", attrs[AttrCommandID])
}
