package rod

import (
	"strings"
	"testing"
)

func TestVisibleText_RemovesScriptStyle(t *testing.T) {
	html := `
<body>
    <div id="main">Hello</div>
    <script>alert("hi")</script>
    <style>.x {}</style>
</body>`

	out := VisibleText(html)

	if strings.Contains(out, "alert") || strings.Contains(out, ".x {}") {
		t.Errorf("script/style content must be removed, output: %s", out)
	}
	if !strings.Contains(out, "Hello") {
		t.Errorf("expected to keep visible text, output: %s", out)
	}
}

func TestVisibleText_RemovesComments(t *testing.T) {
	html := `
<body>
    <!-- hidden note -->
    <div>Text</div>
</body>`

	out := VisibleText(html)

	if strings.Contains(out, "hidden note") {
		t.Error("HTML comments must be removed")
	}
	if !strings.Contains(out, "Text") {
		t.Error("visible text must be kept")
	}
}

func TestVisibleText_SkipsHiddenElements(t *testing.T) {
	html := `
<body>
    <div hidden>invisible one</div>
    <div aria-hidden="true">invisible two</div>
    <div style="display: none">invisible three</div>
    <div style="visibility: hidden">invisible four</div>
    <div>visible</div>
</body>`

	out := VisibleText(html)

	for _, gone := range []string{"invisible one", "invisible two", "invisible three", "invisible four"} {
		if strings.Contains(out, gone) {
			t.Errorf("%q must not appear in visible text", gone)
		}
	}
	if !strings.Contains(out, "visible") {
		t.Error("visible content must be kept")
	}
}

func TestVisibleText_BlockTagsBreakLines(t *testing.T) {
	html := `<body><p>first</p><p>second</p></body>`

	out := VisibleText(html)

	if !strings.Contains(out, "first\nsecond") {
		t.Errorf("block elements must produce line breaks, output: %q", out)
	}
}

func TestVisibleText_CollapsesWhitespace(t *testing.T) {
	html := "<body><div>a    lot\t\tof     space</div></body>"

	out := VisibleText(html)

	if strings.Contains(out, "  ") {
		t.Errorf("runs of whitespace must collapse, output: %q", out)
	}
}

func TestVisibleText_TruncatesHugeDocuments(t *testing.T) {
	html := "<body><div>" + strings.Repeat("word ", 20_000) + "</div></body>"

	out := VisibleText(html)

	if len(out) > maxVisibleTextLen+100 {
		t.Errorf("output must be capped, got %d chars", len(out))
	}
	if !strings.HasSuffix(out, "(truncated)") {
		t.Error("truncated output must be marked")
	}
}
