package textnorm

import "testing"

func TestFlatten(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text stays", "plain text stays"},
		{"  spaced   out  ", "spaced out"},
		{"<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"line<br>break", "line break"},
		{"<p>first</p><p>second</p>", "first second"},
		{"keep &amp; decode", "keep & decode"},
		{"<script>alert(1)</script>visible", "visible"},
		{"<a href=\"https://example.com\">link text</a>", "link text"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Flatten(c.in); got != c.want {
			t.Fatalf("Flatten(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
