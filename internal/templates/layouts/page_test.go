package layouts

import (
	"bytes"
	"context"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(ctx, &buf))
	return buf.String()
}

func TestPage_FlashBanners(t *testing.T) {
	ctx := SetFlashSuccess(context.Background(), "You have been signed out.")
	ctx = SetFlashError(ctx, "<b>bad</b> input")

	body := render(t, templ.WithChildren(ctx, CSRFField("tok")), Page("Sign in"))

	assert.Contains(t, body, "<title>Sign in | CellScan</title>")
	assert.Contains(t, body, `<div class="alert alert-success" role="alert">You have been signed out.</div>`)
	assert.Contains(t, body, `<div class="alert alert-danger" role="alert">&lt;b&gt;bad&lt;/b&gt; input</div>`)
	assert.Contains(t, body, `<input type="hidden" name="csrf_token" value="tok">`, "children render inside main")

	plain := render(t, context.Background(), Page("About"))
	assert.NotContains(t, plain, "alert")
}

func TestPage_Navigation(t *testing.T) {
	ctx := SetActivePath(context.Background(), "/about")
	body := render(t, ctx, Page("About"))
	assert.Contains(t, body, `<a href="/about" class="active">About</a>`)
	assert.Contains(t, body, `<a href="/login">Sign in</a>`)
	assert.NotContains(t, body, "Sign out")

	ctx = SetIsAuthenticated(ctx, true)
	ctx = SetUserName(ctx, "alice")
	ctx = SetCSRFToken(ctx, "csrf-1")
	body = render(t, ctx, Page("About"))
	assert.Contains(t, body, `<a href="/history">History</a>`)
	assert.NotContains(t, body, `href="/login"`)
	assert.Contains(t, body, `<span class="user">alice</span>`)
	assert.Contains(t, body, `value="csrf-1"`)
}

func TestErrorPage(t *testing.T) {
	ctx := SetRequestID(context.Background(), "req-42")
	body := render(t, ctx, ErrorPage(404, "The page you're looking for doesn't exist."))

	assert.Contains(t, body, "<title>Error 404 | CellScan</title>")
	assert.Contains(t, body, "<h1>404</h1>")
	assert.Contains(t, body, "doesn&#39;t exist.")
	assert.Contains(t, body, "<code>req-42</code>")
}
