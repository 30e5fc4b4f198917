package sanitize

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchsync/pkg/contract"
)

func TestSanitizeRepairs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"valid", `{"a":1}`, `{"a":1}`},
		{"multiline", "{\"description\" : \"line one\nline two\"}", `{"description":"line one\nline two"}`},
		{"crlf", "{\"d\":\"a\r\nb\"}", `{"d":"a\nb"}`},
		{"decimal comma", `{"a":[1.,2.]}`, `{"a":[1.0,2.0]}`},
		{"decimal brace", `{"a":3. }`, `{"a":3.0}`},
		{"decimal kept", `{"a":1.5}`, `{"a":1.5}`},
		{"line comment", "{\n// note\n\"a\":1 // tail\n}", `{"a":1}`},
		{"block comment", `{/* x */"a":/* y */1}`, `{"a":1}`},
		{"slashes in string", `{"url":"http://x/*y*/"}`, `{"url":"http://x/*y*/"}`},
		{"dot in string", `{"a":"v1.,"}`, `{"a":"v1.,"}`},
		{"escaped quote", `{"a":"say \"hi\" // not comment"}`, `{"a":"say \"hi\" // not comment"}`},
		{"bom", "\xEF\xBB\xBF{\"a\":1}", `{"a":1}`},
	}
	s := New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := s.Sanitize([]byte(tc.in))
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(out))
			assert.True(t, json.Valid(out))
		})
	}
}

func TestSanitizeFailures(t *testing.T) {
	s := New()
	for _, in := range []string{`{"a":`, `{"a":"open}`, `{/* never closed`, `{"a" 1}`} {
		_, err := s.Sanitize([]byte(in))
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, contract.ErrSanitize), "input %q: %v", in, err)
	}
}
