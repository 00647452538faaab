package components

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// ProfileItem is one row of the profile sidebar. Index is the row's place
// in the user's order.
type ProfileItem struct {
	ID             string
	Name           string
	ExecutablePath string
	ScriptPath     string
	Favorite       bool
	Active         bool
	Index          int
}

// ProfileList renders the sidebar: a favorites section, then every profile
// in the user's order with move buttons. Rows are filtered client side by the
// $q search signal; reordering is hidden while searching.
func ProfileList(items []ProfileItem) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<div id="profile-list" class="profile-list">`); err != nil {
			return err
		}

		var favorites []ProfileItem
		for _, p := range items {
			if p.Favorite {
				favorites = append(favorites, p)
			}
		}
		if len(favorites) > 0 {
			if _, err := io.WriteString(w, `<section class="favorites" data-show="$q == ''"><h2>Favorites</h2><ul>`); err != nil {
				return err
			}
			for _, p := range favorites {
				if err := profileRow(w, "fav-", p, false); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul></section>`); err != nil {
				return err
			}
		}

		if _, err := io.WriteString(w, `<section class="tools"><h2>My Tools</h2><ul>`); err != nil {
			return err
		}
		if len(items) == 0 {
			if _, err := io.WriteString(w, `<li class="empty">No profiles yet</li>`); err != nil {
				return err
			}
		}
		for _, p := range items {
			if err := profileRow(w, "profile-", p, true); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul></section></div>`)
		return err
	})
}

func profileRow(w io.Writer, prefix string, p ProfileItem, movable bool) error {
	id := templ.EscapeString(p.ID)
	class := "profile"
	if p.Active {
		class += " active"
	}
	star := "☆"
	if p.Favorite {
		star = "★"
	}
	_, err := fmt.Fprintf(w,
		`<li id="%s%s" class="%s" data-name="%s" data-show="$q == '' || el.dataset.name.includes($q.toLowerCase())">`+
			`<button class="fav" data-on-click="@post('/profiles/%s/favorite')">%s</button>`+
			`<button class="run" data-on-click="@post('/console/start?profile_id=%s')" title="%s">%s</button>`+
			`<a class="src" href="/profiles/%s/source" target="_blank">source</a>`,
		prefix, id, class, templ.EscapeString(strings.ToLower(p.Name)),
		id, star, id, templ.EscapeString(p.ScriptPath), templ.EscapeString(p.Name), id)
	if err != nil {
		return err
	}
	if movable {
		_, err = fmt.Fprintf(w,
			`<span class="move" data-show="$q == ''">`+
				`<button data-on-click="@post('/profiles/%s/move?to=%d')" title="Move up">↑</button>`+
				`<button data-on-click="@post('/profiles/%s/move?to=%d')" title="Move down">↓</button>`+
				`</span>`,
			id, p.Index-1, id, p.Index+1)
		if err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, `<button class="del" data-on-click="@delete('/profiles/%s')">✕</button></li>`, id)
	return err
}

// ScriptSource renders highlighted script source inside a page shell.
func ScriptSource(name, html string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title>`+
				`<link rel="stylesheet" href="/static/console.css"></head>`+
				`<body><article id="script-source" class="script-source">%s</article></body></html>`,
			templ.EscapeString(name), html)
		return err
	})
}
