package observability

import (
	"context"
	"encoding/binary"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/framefox/foxconnect/internal/platform/requestctx"
)

const cloudTraceHeader = "X-Cloud-Trace-Context"

// TraceAttribute is the Pub/Sub message attribute carrying the publisher's Cloud Trace context.
const TraceAttribute = "cloudTraceContext"

var tracer = otel.Tracer("github.com/framefox/foxconnect/internal/platform/observability")

// TraceMiddleware continues the caller's Cloud Trace context, opens a server span per request
// and echoes the resulting context on the response.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := startSpan(r.Context(), projectID, r.Method+" "+r.URL.Path,
				r.Header.Get(cloudTraceHeader), trace.SpanKindServer)
			defer span.End()
			span.SetAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.ServerAddress(r.Host),
				semconv.UserAgentOriginal(r.UserAgent()),
			)
			info, _ := requestctx.Trace(ctx)
			if header := formatCloudTraceHeader(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InjectMessageTrace adds the span in ctx to outgoing message attributes. attrs may be nil.
func InjectMessageTrace(ctx context.Context, attrs map[string]string) map[string]string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	if attrs == nil {
		attrs = make(map[string]string, 1)
	}
	attrs[TraceAttribute] = formatCloudTraceHeader(traceInfo(sc))
	return attrs
}

// StartMessageSpan opens a consumer span for a received message, continuing the publisher's
// trace when attrs carry one.
func StartMessageSpan(ctx context.Context, projectID, name string, attrs map[string]string) (context.Context, trace.Span) {
	return startSpan(ctx, projectID, name, attrs[TraceAttribute], trace.SpanKindConsumer)
}

func startSpan(ctx context.Context, projectID, name, header string, kind trace.SpanKind) (context.Context, trace.Span) {
	if _, remote, ok := parseCloudTraceContext(header); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(kind))
	info := traceInfo(span.SpanContext())
	info.ProjectID = projectID
	return requestctx.WithTrace(ctx, info), span
}

func traceInfo(sc trace.SpanContext) requestctx.TraceInfo {
	return requestctx.TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}

// parseCloudTraceContext reads TRACE_ID/SPAN_ID;o=OPTIONS. Cloud Trace sends the span id in
// decimal; a 16 digit hex span id is accepted as well.
func parseCloudTraceContext(header string) (requestctx.TraceInfo, trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return requestctx.TraceInfo{}, trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return traceInfo(sc), sc, true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	var id trace.SpanID
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		binary.BigEndian.PutUint64(id[:], n)
		return id, id.IsValid()
	}
	if len(value) == 16 {
		parsed, err := trace.SpanIDFromHex(value)
		return parsed, err == nil
	}
	return id, false
}

// formatCloudTraceHeader renders info with a decimal span id.
func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	spanID, err := trace.SpanIDFromHex(info.SpanID)
	if info.TraceID == "" || err != nil {
		return ""
	}
	sampled := "0"
	if info.Sampled {
		sampled = "1"
	}
	return info.TraceID + "/" + strconv.FormatUint(binary.BigEndian.Uint64(spanID[:]), 10) + ";o=" + sampled
}
