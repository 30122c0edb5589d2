package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutesVariables(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("", "Hi {{contact_name}}, about {{company}}", map[string]interface{}{
		"contact_name": "Jane",
		"company":      "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane, about Acme", out)
}

func TestRenderUnknownVariableIsEmpty(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("", "Hi {{contact_name}}{{ghost}}!", map[string]interface{}{
		"contact_name": "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Jane!", out, "unknown placeholders must never leak")
}

func TestRenderDefaultFilter(t *testing.T) {
	e := NewEngine()
	out, err := e.Render("", `Hey {{ first_name | default: "there" }}`, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "Hey there", out)
}

func TestRenderCachesByKey(t *testing.T) {
	e := NewEngine()
	vars := map[string]interface{}{"n": "one"}

	out, err := e.Render("step:1:subject", "v={{n}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "v=one", out)

	// Same key, different source text: cache hit renders the cached template.
	out, err = e.Render("step:1:subject", "CHANGED {{n}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "v=one", out)

	e.ClearCacheKey("step:1:subject")
	out, err = e.Render("step:1:subject", "CHANGED {{n}}", vars)
	require.NoError(t, err)
	assert.Equal(t, "CHANGED one", out)
}

func TestValidateFlagsUnknownRoots(t *testing.T) {
	e := NewEngine()
	known := map[string]bool{"contact_name": true, "contact_email": true}

	warnings := e.Validate("Hi {{contact_name}}, re {{company}} and {{deal.stage}}", known)
	require.Len(t, warnings, 2)
	assert.Equal(t, "company", warnings[0].Variable)
	assert.Equal(t, "deal", warnings[1].Variable)

	assert.Empty(t, e.Validate("Hi {{contact_name}}", known))
}
