package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccrvlh/codey-sub000/internal/parser"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Install Guide</title></head>
<body>
<nav><a href="/">home</a><a href="/docs">docs</a></nav>
<article>
<h1>Install Guide</h1>
<p>Download the release tarball and unpack it into your tools directory. The
binary is self-contained and needs no additional runtime.</p>
<p>Add the directory to your PATH and run the doctor subcommand to verify the
installation before first use.</p>
</article>
</body>
</html>`

func TestInspectSiteExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolInspectSite,
		map[parser.ParamName]string{parser.ParamURL: srv.URL}))

	result := lastResult(t, h.task)
	if !strings.Contains(result, "Install Guide") {
		t.Errorf("result missing title: %q", result)
	}
	if !strings.Contains(result, "release tarball") || !strings.Contains(result, "doctor subcommand") {
		t.Errorf("result missing article text: %q", result)
	}
	if strings.Contains(result, "<p>") || strings.Contains(result, "<nav>") {
		t.Errorf("result contains markup: %q", result)
	}
}

func TestInspectSiteRejectsNonHTTPURL(t *testing.T) {
	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolInspectSite,
		map[parser.ParamName]string{parser.ParamURL: "ftp://example.com/file"}))

	result := lastResult(t, h.task)
	if !strings.Contains(result, "Error executing") || !strings.Contains(result, "must be http or https") {
		t.Errorf("result = %q", result)
	}
}

func TestInspectSiteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := newHarness(t)
	h.table.Execute(context.Background(), h.task, toolBlock(parser.ToolInspectSite,
		map[parser.ParamName]string{parser.ParamURL: srv.URL + "/missing"}))

	result := lastResult(t, h.task)
	if !strings.Contains(result, "Error executing") || !strings.Contains(result, "404") {
		t.Errorf("result = %q", result)
	}
}
