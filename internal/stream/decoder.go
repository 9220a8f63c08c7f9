package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"sidepanel/internal/logging"
	"sidepanel/internal/provider"
)

const doneMarker = "[DONE]"

// Decoder consumes one response body and drives an Emitter. Decoders call
// Finish on a completion marker or end of stream, and Fail on a
// provider-embedded error. A returned error is a transport failure the
// caller must report; the Emitter is left open in that case.
type Decoder interface {
	Decode(ctx context.Context, body io.Reader, e *Emitter) error
}

// ForFormat selects the decoder variant for a wire format. errorField is the
// provider-specific error path; the generic "error" field is always checked.
func ForFormat(format provider.WireFormat, errorField string) (Decoder, error) {
	fields := errorFields(errorField)
	switch format {
	case provider.WireNDJSON:
		return &NDJSONDecoder{ErrorFields: fields}, nil
	case provider.WireSSEOpenAI:
		return &SSEDecoder{ErrorFields: fields}, nil
	case provider.WireSSECustom:
		return &SSEDecoder{ErrorFields: fields, ObjectsOnly: true}, nil
	}
	return nil, fmt.Errorf("unsupported wire format %q", format)
}

func errorFields(primary string) []string {
	if primary == "" || primary == "error" {
		return []string{"error"}
	}
	return []string{primary, "error"}
}

// providerError returns the message of the first present error field.
func providerError(payload string, fields []string) (string, bool) {
	for _, f := range fields {
		v := gjson.Get(payload, f)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if msg := v.Get("message"); msg.Exists() && msg.String() != "" {
			return msg.String(), true
		}
		if s := v.String(); s != "" && s != "false" {
			return s, true
		}
	}
	return "", false
}

// ErrorText formats a message for delivery as error-final text.
func ErrorText(msg string) string {
	return "Error: " + msg
}

// NDJSONDecoder reads newline-delimited JSON objects and extracts
// message.content from each. Lines that do not parse are skipped.
type NDJSONDecoder struct {
	ErrorFields []string
}

func (d *NDJSONDecoder) Decode(ctx context.Context, body io.Reader, e *Emitter) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == doneMarker {
			e.Finish()
			return nil
		}
		if !gjson.Valid(line) {
			logging.StreamDebug("skipping invalid ndjson chunk: %.80s", line)
			continue
		}
		if msg, ok := providerError(line, d.ErrorFields); ok {
			e.Fail(ErrorText(msg))
			return nil
		}
		e.Append(gjson.Get(line, "message.content").String())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	e.Finish()
	return nil
}

// SSEDecoder reads server-sent events carrying OpenAI-style chunks and
// extracts choices[0].delta.content. With ObjectsOnly set, payloads that do
// not look like a JSON object are ignored without a parse attempt.
type SSEDecoder struct {
	ErrorFields []string
	ObjectsOnly bool
}

func (d *SSEDecoder) Decode(ctx context.Context, body io.Reader, e *Emitter) error {
	er := NewEventReader(body)
	for {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			e.Finish()
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == doneMarker {
			e.Finish()
			return nil
		}
		if d.ObjectsOnly && !strings.HasPrefix(data, "{") {
			continue
		}
		if !gjson.Valid(data) {
			logging.StreamDebug("skipping invalid sse chunk: %.80s", data)
			continue
		}
		if msg, ok := providerError(data, d.ErrorFields); ok {
			e.Fail(ErrorText(msg))
			return nil
		}
		e.Append(gjson.Get(data, "choices.0.delta.content").String())
	}
}
