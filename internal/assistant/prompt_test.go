package assistant

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"sidepanel/internal/provider"
)

func TestLimitText(t *testing.T) {
	long := strings.Repeat("x", 5000)
	assert.Len(t, LimitText(long, 0), 1000)
	assert.Len(t, LimitText(long, 2), 2000)
	assert.Len(t, LimitText(long, UnlimitedContext), 5000)
	assert.Equal(t, "short", LimitText("short", 1))
	assert.Equal(t, "", LimitText("", 3))
	assert.Equal(t, 1000, len([]rune(LimitText(strings.Repeat("é", 1500), 1))))
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "persona", SystemPrompt("persona", "", ""))
	assert.Equal(t, "persona\n. here is the page content: PAGE", SystemPrompt("persona", "PAGE", ""))

	got := SystemPrompt("p", "PAGE", "WEB")
	assert.Contains(t, got, ". here is the page content: PAGE")
	assert.True(t, strings.HasSuffix(got,
		". here is a quick web search result about the topic (refer to this as your quick web search): WEB"))
}

func TestBuildMessages(t *testing.T) {
	got := BuildMessages("sys", "third question", []string{"second answer", "second question", "first answer", "first question"})
	want := []provider.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "first answer"},
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "second answer"},
		{Role: "user", Content: "third question"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildMessages mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(want[1:5], Chronological([]string{"second answer", "second question", "first answer", "first question"})); diff != "" {
		t.Errorf("Chronological mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Trade War Escalates", CleanTitle(`  "## Trade War Escalates"  `))
	assert.Equal(t, "", CleanTitle(`"#"`))
}
