package enrich

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate_Render(t *testing.T) {
	tmpl := NewTemplate("greeting", "Hello {{NAME}}, welcome to {{COMPANY}}. Bye {{NAME}}.")
	assert.Equal(t, []string{"COMPANY", "NAME"}, tmpl.Placeholders())

	out, err := tmpl.Render(map[string]string{"NAME": "Ada", "COMPANY": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, welcome to Acme. Bye Ada.", out)
}

func TestTemplate_UnboundPlaceholder(t *testing.T) {
	tmpl := NewTemplate("greeting", "Hello {{NAME}} from {{COMPANY}}")
	_, err := tmpl.Render(map[string]string{"NAME": "Ada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound placeholders: COMPANY")
}

func TestTemplate_BindingWithoutPlaceholder(t *testing.T) {
	tmpl := NewTemplate("greeting", "Hello {{NAME}}")
	_, err := tmpl.Render(map[string]string{"NAME": "Ada", "TITLE": "CTO"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bindings without placeholders: TITLE")
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		TemplateProfileSummary,
		TemplateCompanySummary,
		TemplateTechStackSummary,
		TemplateCombinedAnalysis,
		TemplateOutreachMessage,
	} {
		_, err := r.Get(name)
		assert.NoError(t, err, name)
	}

	_, err := r.Get("nope")
	assert.Error(t, err)
}

func TestRegistry_LoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"profile_summary: \"Describe {{PROFILE}} briefly.\"\ncustom_prompt: \"Say {{WORD}}\"\n",
	), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadFile(path))

	out, err := r.Render(TemplateProfileSummary, map[string]string{"PROFILE": "a profile"})
	require.NoError(t, err)
	assert.Equal(t, "Describe a profile briefly.", out)

	out, err = r.Render("custom_prompt", map[string]string{"WORD": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Say hi", out)
}

func TestRegistry_LoadFileMissing(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
