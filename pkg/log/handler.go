package log

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// appendFields writes alternating key/value pairs onto a zerolog event.
// Errors get their cockroachdb/errors stack attached; values implementing
// zerolog.LogObjectMarshaler (the pkg/errors types) are logged as objects.
func appendFields(e *zerolog.Event, fields ...any) *zerolog.Event {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = appendError(e, ErrorKey, err)
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			e = appendError(e, key, v)
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	if len(fields)%2 == 1 {
		e = e.Interface("!BADKEY", fields[len(fields)-1])
	}
	return e
}

func appendContext(c zerolog.Context, fields ...any) zerolog.Context {
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if err, ok := fields[i+1].(error); ok {
			c = c.Str(key, err.Error())
			continue
		}
		c = c.Interface(key, fields[i+1])
	}
	return c
}

func appendError(e *zerolog.Event, key string, err error) *zerolog.Event {
	e = e.Str(key, err.Error())
	var m zerolog.LogObjectMarshaler
	if errors.As(err, &m) {
		e = e.Object(ErrorTypeKey, m)
	}
	if st := extractStacktrace(err); st != "" {
		e = e.Str(StacktraceKey, st)
	}
	return e
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
