package help

import (
	"strings"
	"testing"
)

func TestHTML_EmbeddedPanel(t *testing.T) {
	out, err := HTML()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"<h2>How it Works: Connecting the Dots</h2>", "<strong>Structure extraction</strong>", "<code>/output</code>", "<ul>"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in rendered panel", want)
		}
	}
	again, _ := HTML()
	if again != out {
		t.Error("expected cached output on second call")
	}
}

func TestRender_DropsRawHTML(t *testing.T) {
	out, err := Render([]byte("hello <script>alert(1)</script>"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Errorf("expected raw html to be omitted, got %q", out)
	}
}
