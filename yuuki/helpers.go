package yuuki

import (
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"
)

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"[redacted]"` will cause "[redacted]"
// to be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip struct values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" {
				skip = true
			}
		}

		if skip {
			continue
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}
	return slog.GroupValue(groupAttrs...)
}

// splitArgs splits a command argument string on whitespace, honoring
// double-quoted segments so task names with spaces parse as one
// argument. Quotes are stripped from the result.
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	hasCurrent := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCurrent = true
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			if hasCurrent {
				args = append(args, current.String())
				current.Reset()
				hasCurrent = false
			}
		default:
			current.WriteRune(r)
			hasCurrent = true
		}
	}
	if hasCurrent {
		args = append(args, current.String())
	}
	return args
}

// capitalize upper-cases the first byte of s, for error text shown to
// users.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// chunkMessage splits content into pieces that fit discord's message
// length limit, preferring to break on newlines.
func chunkMessage(content string, limit int) []string {
	if limit <= 0 {
		limit = discordMaxMessageLength
	}
	if len(content) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(content) > limit {
		cut := strings.LastIndexByte(content[:limit], '\n')
		if cut <= 0 {
			// no newline in the window: cut at the limit, but never
			// mid-rune
			cut = limit
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, strings.TrimRight(content[:cut], "\n"))
		content = strings.TrimLeft(content[cut:], "\n")
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
