package container

import (
	"fmt"
	"sort"
	"strconv"
)

// The container's metadata record uses a bencode-style self-describing
// encoding: `i...e` integers, length-prefixed byte strings, `d...e` maps
// with byte-string keys, and `l...e` lists. Decoded values map to int64,
// []byte, map[string]interface{} and []interface{} respectively.

// decodeValue decodes a single value starting at buf[pos] and returns the
// value together with the offset of the first byte after it.
func decodeValue(buf []byte, pos int) (interface{}, int, error) {
	if pos >= len(buf) {
		return nil, 0, &FormatError{Reason: "metadata record truncated"}
	}

	switch c := buf[pos]; {
	case c == 'i':
		return decodeInteger(buf, pos)

	case c == 'd':
		return decodeMap(buf, pos)

	case c == 'l':
		return decodeList(buf, pos)

	case c >= '0' && c <= '9':
		return decodeString(buf, pos)

	default:
		return nil, 0, &FormatError{Reason: fmt.Sprintf("unexpected metadata byte %#x at offset %d", c, pos)}
	}
}

func decodeInteger(buf []byte, pos int) (int64, int, error) {
	end := pos + 1
	for end < len(buf) && buf[end] != 'e' {
		end++
	}
	if end >= len(buf) {
		return 0, 0, &FormatError{Reason: "unterminated integer"}
	}

	n, err := strconv.ParseInt(string(buf[pos+1:end]), 10, 64)
	if err != nil {
		return 0, 0, &FormatError{Reason: "malformed integer: " + err.Error()}
	}

	return n, end + 1, nil
}

func decodeString(buf []byte, pos int) ([]byte, int, error) {
	sep := pos
	for sep < len(buf) && buf[sep] != ':' {
		if buf[sep] < '0' || buf[sep] > '9' {
			return nil, 0, &FormatError{Reason: "malformed string length"}
		}
		sep++
	}
	if sep >= len(buf) {
		return nil, 0, &FormatError{Reason: "unterminated string length"}
	}

	length, err := strconv.Atoi(string(buf[pos:sep]))
	if err != nil || length < 0 {
		return nil, 0, &FormatError{Reason: "malformed string length"}
	}

	start := sep + 1
	if start+length > len(buf) {
		return nil, 0, &FormatError{Reason: "string extends past end of record"}
	}

	return buf[start : start+length], start + length, nil
}

func decodeMap(buf []byte, pos int) (map[string]interface{}, int, error) {
	m := map[string]interface{}{}
	pos++ // skip 'd'

	for {
		if pos >= len(buf) {
			return nil, 0, &FormatError{Reason: "unterminated map"}
		}
		if buf[pos] == 'e' {
			return m, pos + 1, nil
		}

		key, next, err := decodeString(buf, pos)
		if err != nil {
			return nil, 0, err
		}

		value, next, err := decodeValue(buf, next)
		if err != nil {
			return nil, 0, err
		}

		m[string(key)] = value
		pos = next
	}
}

func decodeList(buf []byte, pos int) ([]interface{}, int, error) {
	var list []interface{}
	pos++ // skip 'l'

	for {
		if pos >= len(buf) {
			return nil, 0, &FormatError{Reason: "unterminated list"}
		}
		if buf[pos] == 'e' {
			return list, pos + 1, nil
		}

		value, next, err := decodeValue(buf, pos)
		if err != nil {
			return nil, 0, err
		}

		list = append(list, value)
		pos = next
	}
}

// Encode serializes a value in the metadata record encoding. Map keys are
// written in sorted order so the output is deterministic. It exists for
// fixture construction and tooling; the extraction path only decodes.
func Encode(value interface{}) ([]byte, error) {
	return appendValue(nil, value)
}

func appendValue(out []byte, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return appendValue(out, int64(v))

	case int64:
		out = append(out, 'i')
		out = strconv.AppendInt(out, v, 10)
		return append(out, 'e'), nil

	case string:
		return appendValue(out, []byte(v))

	case []byte:
		out = strconv.AppendInt(out, int64(len(v)), 10)
		out = append(out, ':')
		return append(out, v...), nil

	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out = append(out, 'd')
		for _, k := range keys {
			var err error
			if out, err = appendValue(out, k); err != nil {
				return nil, err
			}
			if out, err = appendValue(out, v[k]); err != nil {
				return nil, err
			}
		}
		return append(out, 'e'), nil

	case []interface{}:
		out = append(out, 'l')
		for _, item := range v {
			var err error
			if out, err = appendValue(out, item); err != nil {
				return nil, err
			}
		}
		return append(out, 'e'), nil

	default:
		return nil, fmt.Errorf("unencodable metadata value of type %T", value)
	}
}
