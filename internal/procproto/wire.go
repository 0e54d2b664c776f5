package procproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/giantswarm/fnhost/internal/sentinel"
)

// ErrDecode is returned when a message body is not a valid encoding of the
// expected message.
const ErrDecode = sentinel.Error("decode message")

// fieldFunc decodes one field value from b and returns the number of bytes
// consumed. Returning 0 with a nil error skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields iterates over the top-level fields of an encoded message.
func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func wrongType(num protowire.Number, got, want protowire.Type) error {
	return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrDecode, num, got, want)
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wrongType(num, typ, protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytes(num, typ, b)
	return string(v), n, err
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wrongType(num, typ, protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeUint32(num protowire.Number, typ protowire.Type, b []byte) (uint32, int, error) {
	v, n, err := consumeVarint(num, typ, b)
	if err != nil {
		return 0, 0, err
	}
	if v > 1<<32-1 {
		return 0, 0, fmt.Errorf("%w: field %d overflows uint32", ErrDecode, num)
	}
	return uint32(v), n, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}
