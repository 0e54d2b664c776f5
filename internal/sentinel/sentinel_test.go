package sentinel

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	t.Parallel()

	const errDecode = Error("decode failed")

	tests := map[string]struct {
		err    error
		target error
		want   bool
	}{
		"identical":               {err: errDecode, target: errDecode, want: true},
		"wrapped":                 {err: fmt.Errorf("verify: %w", errDecode), target: errDecode, want: true},
		"joined":                  {err: errors.Join(errors.New("x"), errDecode), target: errDecode, want: true},
		"different text":          {err: errDecode, target: Error("other"), want: false},
		"errors.New same text":    {err: errDecode, target: errors.New("decode failed"), want: false},
		"same text is same const": {err: Error("decode failed"), target: errDecode, want: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := errors.Is(tc.err, tc.target); got != tc.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tc.err, tc.target, got, tc.want)
			}
		})
	}

	if errDecode.Error() != "decode failed" {
		t.Errorf("Error() = %q, want %q", errDecode.Error(), "decode failed")
	}
}
