// Package recovery holds the static remediation knowledge used when a
// transition or git operation fails: how each merge strategy integrates a
// task branch, and which commands get an operator out of each known
// failure category.
package recovery

import "strings"

// Params fills the placeholders of a command template.
type Params struct {
	Task   string // {task}
	Path   string // {path}
	Branch string // {branch}
	Base   string // {base}
	Target string // {target}
	Source string // {source}
}

func (p Params) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{task}", p.Task,
		"{path}", p.Path,
		"{branch}", p.Branch,
		"{base}", p.Base,
		"{target}", p.Target,
		"{source}", p.Source,
	)
}

// Render substitutes p into every template. Placeholders with an empty
// value are left as written so the operator can see what is missing.
func Render(templates []string, p Params) []string {
	if len(templates) == 0 {
		return nil
	}
	r := p.withPlaceholders().replacer()
	out := make([]string, len(templates))
	for i, tmpl := range templates {
		out[i] = r.Replace(tmpl)
	}
	return out
}

// withPlaceholders returns p with every empty field set to its own
// placeholder.
func (p Params) withPlaceholders() Params {
	fill := func(v, placeholder string) string {
		if v == "" {
			return placeholder
		}
		return v
	}
	return Params{
		Task:   fill(p.Task, "{task}"),
		Path:   fill(p.Path, "{path}"),
		Branch: fill(p.Branch, "{branch}"),
		Base:   fill(p.Base, "{base}"),
		Target: fill(p.Target, "{target}"),
		Source: fill(p.Source, "{source}"),
	}
}
