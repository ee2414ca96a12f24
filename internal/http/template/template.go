package template

// Minimal {{name}} substitution renderer for handler responses. Unknown
// placeholders render as the empty string; "{{" without a closing "}}" is
// emitted literally.

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Render substitutes {{name}} placeholders from vars.
func Render(tmpl string, vars map[string]string) string {
	return render(tmpl, vars, false)
}

// RenderHTML substitutes placeholders with HTML-escaped values.
func RenderHTML(tmpl string, vars map[string]string) string {
	return render(tmpl, vars, true)
}

func render(tmpl string, vars map[string]string, escape bool) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for {
		open := strings.Index(tmpl, "{{")
		if open < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		close := strings.Index(tmpl[open+2:], "}}")
		if close < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		b.WriteString(tmpl[:open])
		name := strings.TrimSpace(tmpl[open+2 : open+2+close])
		if v, ok := vars[name]; ok {
			if escape {
				b.WriteString(htmlEscaper.Replace(v))
			} else {
				b.WriteString(v)
			}
		}
		tmpl = tmpl[open+2+close+2:]
	}
}
