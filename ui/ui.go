// Package ui holds the page shell and static assets served by the HTTP layer.
package ui

import (
	"context"
	"embed"
	"io"

	components "scripthub/ui/components"

	"github.com/a-h/templ"
)

//go:embed static
var StaticFS embed.FS

//go:embed static/favicon.svg
var FaviconSVG []byte

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@v1.0.0-beta.11/bundles/datastar.js"

// Index renders the single page. Everything below the shell arrives over the
// /ui event stream.
func Index() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, head); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<body data-signals="{line: '', name: '', executable_path: '', script_path: '', q: ''}" data-on-load="@get('/ui')">`); err != nil {
			return err
		}
		if _, err := io.WriteString(w, sidebar); err != nil {
			return err
		}
		if err := components.ProfileList(nil).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</aside><main class="console">`); err != nil {
			return err
		}
		if err := components.ConsoleStatus("idle", "", 0).Render(ctx, w); err != nil {
			return err
		}
		if err := components.ConsoleError("").Render(ctx, w); err != nil {
			return err
		}
		if err := components.ConsoleLog(nil).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, controls+`</main></body></html>`)
		return err
	})
}

const head = `<!DOCTYPE html><html lang="en"><head>` +
	`<meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">` +
	`<title>scripthub</title>` +
	`<link rel="icon" href="/favicon.svg" type="image/svg+xml">` +
	`<link rel="stylesheet" href="/static/console.css">` +
	`<script type="module" src="` + datastarScript + `"></script>` +
	`</head>`

const sidebar = `<aside class="sidebar"><h1>scripthub</h1>` +
	`<form class="new-profile" data-on-submit="@post('/profiles')">` +
	`<input data-bind="name" placeholder="Name" required>` +
	`<input data-bind="executable_path" placeholder="Interpreter, e.g. /usr/bin/python3" required>` +
	`<input data-bind="script_path" placeholder="Script path" required>` +
	`<button type="submit">Add profile</button></form>` +
	`<input class="search" type="search" data-bind="q" placeholder="Search tools">`

const controls = `<form class="console-input" data-on-submit="@post('/console/input')">` +
	`<input data-bind="line" autocomplete="off" placeholder="stdin">` +
	`<button type="submit">Send</button></form>` +
	`<div class="console-buttons">` +
	`<button data-on-click="@post('/console/interrupt')">Interrupt</button>` +
	`<button data-on-click="@post('/console/stop')">Stop</button>` +
	`<button data-on-click="@post('/console/clear')">Clear</button>` +
	`</div>`
