package urlguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRestricted(t *testing.T) {
	cases := map[string]bool{
		"chrome://settings":                   true,
		"CHROME://newtab":                     true,
		"chrome-extension://abc/panel.html":   true,
		"devtools://devtools/bundled":         true,
		"about:blank":                         true,
		"https://example.com":                 false,
		"http://localhost:11434/api/chat":     false,
		"https://chrome.google.com/webstore/": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsRestricted(in), in)
	}
}

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"http://localhost:11434/api/chat": true,
		"http://127.0.0.1:1234/v1":        true,
		"http://[::1]:8080/":              true,
		"http://app.localhost/":           true,
		"https://api.groq.com/openai/v1":  false,
		"http://10.0.0.5:11434":           false,
		"::not a url":                     false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsLoopback(in), in)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", Clean("http://localhost:11434/"))
	assert.Equal(t, "http://localhost:11434", Clean("http://localhost:11434"))
}
