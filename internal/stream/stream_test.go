package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidepanel/internal/provider"
)

type call struct {
	text  string
	final bool
}

type recorder struct {
	calls []call
}

func (r *recorder) handle(text string, final bool) {
	r.calls = append(r.calls, call{text, final})
}

func (r *recorder) finals() []call {
	var out []call
	for _, c := range r.calls {
		if c.final {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) assertGrowing(t *testing.T) {
	t.Helper()
	prev := ""
	for _, c := range r.calls {
		if c.final {
			continue
		}
		require.True(t, strings.HasPrefix(c.text, prev), "text shrank: %q -> %q", prev, c.text)
		prev = c.text
	}
}

func decode(t *testing.T, format provider.WireFormat, errField, body string) *recorder {
	t.Helper()
	dec, err := ForFormat(format, errField)
	require.NoError(t, err)
	rec := &recorder{}
	e := NewEmitter(rec.handle)
	require.NoError(t, dec.Decode(context.Background(), strings.NewReader(body), e))
	return rec
}

func sseChunk(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func TestDecoders_ConcatenateAndFinishOnce(t *testing.T) {
	fragments := []string{"Hel", "lo", ", ", "world"}

	var ndjson, sse strings.Builder
	for _, f := range fragments {
		ndjson.WriteString(`{"message":{"role":"assistant","content":"` + f + `"},"done":false}` + "\n")
		sse.WriteString(sseChunk(f))
	}
	ndjson.WriteString("[DONE]\n")
	sse.WriteString("data: [DONE]\n\n")

	cases := []struct {
		name   string
		format provider.WireFormat
		field  string
		body   string
	}{
		{"ndjson", provider.WireNDJSON, "", ndjson.String()},
		{"sse-openai", provider.WireSSEOpenAI, "x_openai.error", sse.String()},
		{"sse-openai groq", provider.WireSSEOpenAI, "x_groq.error", sse.String()},
		{"sse-custom", provider.WireSSECustom, "x_gemini.error", sse.String()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := decode(t, tc.format, tc.field, tc.body)
			finals := rec.finals()
			require.Len(t, finals, 1)
			assert.Equal(t, "Hello, world", finals[0].text)
			assert.True(t, rec.calls[len(rec.calls)-1].final)
			rec.assertGrowing(t)
		})
	}
}

func TestDecoders_EndOfStreamWithoutMarker(t *testing.T) {
	rec := decode(t, provider.WireNDJSON, "", `{"message":{"content":"a"}}`+"\n"+`{"message":{"content":"b"},"done":true}`)
	require.Equal(t, []call{{"a", false}, {"ab", false}, {"ab", true}}, rec.calls)

	rec = decode(t, provider.WireSSEOpenAI, "", sseChunk("x")+sseChunk("y"))
	require.Equal(t, []call{{"x", false}, {"xy", false}, {"xy", true}}, rec.calls)
}

func TestDecoders_SkipMalformedChunks(t *testing.T) {
	ndjson := `{"message":{"content":"one"}}` + "\n" +
		`{"message":{"content":` + "\n" +
		`garbage` + "\n" +
		`{"message":{"content":" two"}}` + "\n"
	rec := decode(t, provider.WireNDJSON, "", ndjson)
	require.Len(t, rec.finals(), 1)
	require.Equal(t, "one two", rec.finals()[0].text)

	sse := sseChunk("one") + "data: {not json\n\n" + sseChunk(" two") + "data: [DONE]\n\n"
	rec = decode(t, provider.WireSSEOpenAI, "", sse)
	require.Len(t, rec.finals(), 1)
	require.Equal(t, "one two", rec.finals()[0].text)
}

func TestSSECustom_IgnoresNonObjectEvents(t *testing.T) {
	body := "data: connected\n\n" + "data: [1,2]\n\n" + sseChunk("ok") + "data: [DONE]\n\n"
	rec := decode(t, provider.WireSSECustom, "x_gemini.error", body)
	require.Equal(t, []call{{"ok", false}, {"ok", true}}, rec.calls)
}

func TestDecoders_DoneOnlyYieldsEmptyFinal(t *testing.T) {
	for _, format := range []provider.WireFormat{provider.WireSSEOpenAI, provider.WireSSECustom} {
		rec := decode(t, format, "", "data: [DONE]\n\n")
		require.Equal(t, []call{{"", true}}, rec.calls, format)
	}
	rec := decode(t, provider.WireNDJSON, "", "[DONE]")
	require.Equal(t, []call{{"", true}}, rec.calls)
}

func TestDecoders_RepeatedMarkersFinishOnce(t *testing.T) {
	rec := decode(t, provider.WireSSEOpenAI, "", sseChunk("a")+"data: [DONE]\n\ndata: [DONE]\n\n")
	require.Len(t, rec.finals(), 1)
}

func TestDecoders_ProviderErrorShortCircuits(t *testing.T) {
	body := sseChunk("partial") +
		`data: {"x_groq":{"error":"rate limited"}}` + "\n\n" +
		sseChunk(" ignored")
	rec := decode(t, provider.WireSSEOpenAI, "x_groq.error", body)
	require.Equal(t, []call{{"partial", false}, {"Error: rate limited", true}}, rec.calls)

	body = `data: {"error":{"message":"model not found","type":"invalid_request_error"}}` + "\n\n"
	rec = decode(t, provider.WireSSECustom, "x_gemini.error", body)
	require.Equal(t, []call{{"Error: model not found", true}}, rec.calls)

	rec = decode(t, provider.WireNDJSON, "", `{"error":"model 'nope' not found"}`+"\n")
	require.Equal(t, []call{{"Error: model 'nope' not found", true}}, rec.calls)
}

func TestDecoders_NullErrorFieldIsNotAnError(t *testing.T) {
	body := `data: {"error":null,"choices":[{"delta":{"content":"fine"}}]}` + "\n\n"
	rec := decode(t, provider.WireSSEOpenAI, "", body)
	require.Equal(t, []call{{"fine", false}, {"fine", true}}, rec.calls)
}

type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestDecoders_TransportErrorLeavesEmitterOpen(t *testing.T) {
	dec, err := ForFormat(provider.WireSSEOpenAI, "")
	require.NoError(t, err)
	rec := &recorder{}
	e := NewEmitter(rec.handle)

	err = dec.Decode(context.Background(), &failingReader{data: sseChunk("a")}, e)
	require.Error(t, err)
	require.False(t, e.Done())
	require.Empty(t, rec.finals())
}

func TestForFormat_Unknown(t *testing.T) {
	_, err := ForFormat("xml-rpc", "")
	require.Error(t, err)
}

func TestEmitter_GuardsFinal(t *testing.T) {
	rec := &recorder{}
	e := NewEmitter(rec.handle)
	e.Append("a")
	e.Append("")
	e.Finish()
	e.Finish()
	e.Fail("late")
	e.Append("b")
	require.Equal(t, []call{{"a", false}, {"a", true}}, rec.calls)

	rec = &recorder{}
	e = NewEmitter(rec.handle)
	e.Close()
	e.Finish()
	require.Empty(t, rec.calls)
}

func TestEventReader_Framing(t *testing.T) {
	body := ": keep-alive\n" +
		"event: delta\nid: 7\ndata: line one\ndata: line two\n\n" +
		"data:no-space\r\n\r\n" +
		"data: trailing"
	er := NewEventReader(strings.NewReader(body))

	ev, err := er.Next()
	require.NoError(t, err)
	require.Equal(t, Event{Event: "delta", ID: "7", Data: "line one\nline two"}, ev)

	ev, err = er.Next()
	require.NoError(t, err)
	require.Equal(t, "no-space", ev.Data)

	ev, err = er.Next()
	require.NoError(t, err)
	require.Equal(t, "trailing", ev.Data)

	_, err = er.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestEmitter_CloseFromHandler(t *testing.T) {
	var e *Emitter
	rec := &recorder{}
	e = NewEmitter(func(text string, final bool) {
		rec.handle(text, final)
		e.Close()
	})
	e.Append("a")
	e.Append("b")
	e.Finish()
	require.Equal(t, []call{{"a", false}}, rec.calls)
	require.True(t, e.Done())
}
