package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsHTML(t *testing.T) {
	out := asHTML("line one\nline two")
	assert.Contains(t, out, "<html><body>")
	assert.Contains(t, out, "line one<br/>")

	passthrough := "<html><body><p>already html</p></body></html>"
	assert.Equal(t, passthrough, asHTML(passthrough))
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "Hello\nWorld", htmlToText("<p> Hello </p>\n<b>World</b>"))
	assert.Equal(t, "plain", htmlToText("plain"))
}
