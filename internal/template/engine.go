// Package template renders step subject/content with Liquid, so sellers get
// `{{contact_name}}`-style personalization plus the usual filters. Unknown
// variables render as the empty string in production sends; validation mode
// reports them as warnings instead.
package template

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Warning flags a template variable that is not satisfied by the known
// variable set. Warnings are advisory; sends still go out with the variable
// rendered empty.
type Warning struct {
	Variable string `json:"variable"`
	Message  string `json:"message"`
}

// Engine renders Liquid templates with caching. Safe for concurrent use.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // cacheKey → *liquid.Template
}

// NewEngine creates an engine with the outreach filter set registered.
func NewEngine() *Engine {
	e := &Engine{engine: liquid.NewEngine()}
	e.registerFilters()
	return e
}

func (e *Engine) registerFilters() {
	// {{ first_name | default: "there" }}
	e.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | capitalize }}
	e.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	// {{ email | urlencode }}
	e.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ user_input | escape }}
	e.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})
}

// Render processes a template against the given variables. Parse or render
// failures fall back to the raw template rather than blocking a send.
// A non-empty cacheKey caches the parsed template across renders.
func (e *Engine) Render(cacheKey, templateStr string, vars map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := e.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(vars)
		}
	}

	tpl, err := e.engine.ParseString(templateStr)
	if err != nil {
		return templateStr, fmt.Errorf("parse template: %w", err)
	}
	if cacheKey != "" {
		e.cache.Store(cacheKey, tpl)
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return templateStr, fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ClearCacheKey drops one cached template, e.g. after a step edit.
func (e *Engine) ClearCacheKey(key string) {
	e.cache.Delete(key)
}

var varRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)`)

// Validate reports template variables that are not covered by the known
// variable names. Used at step create/update time so authors see typos
// before a sequence goes live.
func (e *Engine) Validate(templateStr string, known map[string]bool) []Warning {
	var warnings []Warning
	seen := map[string]bool{}
	for _, m := range varRe.FindAllStringSubmatch(templateStr, -1) {
		name := m[1]
		// Only the root of a dotted path needs to exist.
		if i := strings.Index(name, "."); i > 0 {
			name = name[:i]
		}
		if seen[name] || known[name] {
			continue
		}
		seen[name] = true
		warnings = append(warnings, Warning{
			Variable: name,
			Message:  fmt.Sprintf("variable %q is not defined for this sequence and will render empty", name),
		})
	}
	return warnings
}
