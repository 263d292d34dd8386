package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Substitution(t *testing.T) {
	r := Message(
		"Hi {name}",
		"Dear {name}, see attached.",
		Fields{"name": "Ana", "email": "ana@x"},
		"",
		nil,
	)
	assert.Equal(t, "Hi Ana", r.Subject)
	assert.Equal(t, "Dear Ana, see attached.", r.HTML)
	assert.Empty(t, r.Empty)
}

func TestMessage_UnknownFieldExpandsEmpty(t *testing.T) {
	r := Message("Hello", "Hi {first_name}", Fields{"name": "Ana"}, "", nil)
	assert.Equal(t, "Hi ", r.HTML)
	assert.Equal(t, []string{"first_name"}, r.Empty)
}

func TestMessage_SubjectCollapsedToOneLine(t *testing.T) {
	r := Message("  Monthly\n\treport   {month} ", "b", Fields{"month": "May"}, "", nil)
	assert.Equal(t, "Monthly report May", r.Subject)
}

func TestMessage_SignatureRenderedAgainstSender(t *testing.T) {
	r := Message(
		"s",
		"Dear {name},",
		Fields{"name": "Ana"},
		"Regards,<br>{name}, {role}",
		Fields{"name": "Omar", "role": "operator"},
	)
	assert.Equal(t, "Dear Ana,<br><br>Regards,<br>Omar, operator", r.HTML)
	assert.Empty(t, r.Empty)
}

func TestMessage_EmptyFieldRecordedOnce(t *testing.T) {
	r := Message("{dept} {dept}", "{dept}", Fields{}, "", nil)
	assert.Equal(t, []string{"dept"}, r.Empty)
}

func TestHTMLToText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"<p>Hello <b>world</b></p>", "Hello world"},
		{"line one<br>line two", "line one\nline two"},
		{"a &amp; b &lt;c&gt;", "a & b <c>"},
		{"<style>p{color:red}</style><div>text</div>", "text"},
		{"<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTMLToText(tc.in), "input %q", tc.in)
	}
}

func TestExpand(t *testing.T) {
	out, empty := Expand("{a} {b} {a}", Fields{"a": "x"})
	assert.Equal(t, "x  x", out)
	assert.Equal(t, []string{"b"}, empty)
}
