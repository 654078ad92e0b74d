package enrich

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// placeholderRe matches {{NAME}} placeholders in prompt templates.
var placeholderRe = regexp.MustCompile(`\{\{([A-Z_]+)\}\}`)

// Template is a prompt template with typed placeholder binding. Rendering
// fails loudly when a placeholder has no binding or a binding has no
// placeholder, so template drift surfaces immediately instead of producing
// prompts with silent holes.
type Template struct {
	Name         string
	raw          string
	placeholders []string
}

// NewTemplate parses the placeholder set out of raw.
func NewTemplate(name, raw string) *Template {
	seen := map[string]bool{}
	var placeholders []string
	for _, m := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			placeholders = append(placeholders, m[1])
		}
	}
	sort.Strings(placeholders)
	return &Template{Name: name, raw: raw, placeholders: placeholders}
}

// Placeholders returns the placeholder names the template requires.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Render substitutes bindings into the template.
func (t *Template) Render(bindings map[string]string) (string, error) {
	var missing, unknown []string
	for _, p := range t.placeholders {
		if _, ok := bindings[p]; !ok {
			missing = append(missing, p)
		}
	}
	for k := range bindings {
		found := false
		for _, p := range t.placeholders {
			if k == p {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	if len(missing) > 0 {
		return "", eris.Errorf("template %s: unbound placeholders: %s", t.Name, strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		return "", eris.Errorf("template %s: bindings without placeholders: %s", t.Name, strings.Join(unknown, ", "))
	}

	out := placeholderRe.ReplaceAllStringFunc(t.raw, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		return bindings[key]
	})
	return out, nil
}

// Template names used by the enrichment stages.
const (
	TemplateProfileSummary   = "profile_summary"
	TemplateCompanySummary   = "company_summary"
	TemplateTechStackSummary = "tech_stack_summary"
	TemplateCombinedAnalysis = "combined_analysis"
	TemplateOutreachMessage  = "outreach_message"
)

var defaultTemplates = map[string]string{
	TemplateProfileSummary: `Summarize this professional profile in 3-4 sentences focused on what matters for B2B outreach: role, seniority, tenure, and notable background.

Profile:
{{PROFILE}}`,

	TemplateCompanySummary: `Summarize what this company does in 3-4 sentences: its product or service, target market, and anything notable about its positioning.

Website content:
{{WEBSITE}}`,

	TemplateTechStackSummary: `Summarize this company's technology choices in 2-3 sentences, calling out categories relevant to a sales conversation.

Detected technologies:
{{TECHNOLOGIES}}`,

	TemplateCombinedAnalysis: `You are preparing a sales rep to contact {{NAME}}. Using the research below, write a short analysis: who they are, what their company does, and the most promising conversation angle.

{{RESEARCH}}`,

	TemplateOutreachMessage: `Write a short, personal outreach email to {{NAME}} ({{TITLE}}). Base it on this analysis, reference one specific detail, and end with a low-pressure ask. No subject line, under 120 words.

Analysis:
{{ANALYSIS}}`,
}

// Registry holds the prompt templates by name.
type Registry struct {
	templates map[string]*Template
}

// NewRegistry returns a registry preloaded with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template, len(defaultTemplates))}
	for name, raw := range defaultTemplates {
		r.templates[name] = NewTemplate(name, raw)
	}
	return r
}

// LoadFile overlays templates from a YAML file of name -> template text.
// Unknown names are allowed so deployments can add their own.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "templates: read %s", path)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return eris.Wrapf(err, "templates: parse %s", path)
	}
	for name, raw := range overrides {
		r.templates[name] = NewTemplate(name, raw)
	}
	return nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (*Template, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, eris.Errorf("templates: unknown template %q", name)
	}
	return t, nil
}

// Render looks up and renders the named template in one step.
func (r *Registry) Render(name string, bindings map[string]string) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return t.Render(bindings)
}
