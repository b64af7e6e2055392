package catalog

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:tsx|jsx|typescript|javascript|ts|js)?[ \\t]*\\n(.*?)```")

// ExtractCodeBlock returns the body of the first fenced code block in text.
func ExtractCodeBlock(text string) (string, bool) {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

type componentLabel struct {
	label  string
	needle []string
}

var exportedComponent = regexp.MustCompile(`export\s+(?:default\s+)?function\s+([A-Z]\w*)`)

// order matters: a sidebar usually contains a <nav as well
var componentLabels = []componentLabel{
	{"Sidebar", []string{"<aside", "sidebar"}},
	{"Navbar", []string{"<nav", "navbar"}},
	{"Footer", []string{"<footer"}},
	{"Modal", []string{"modal", "dialog"}},
	{"Table", []string{"<table"}},
	{"Pricing", []string{"pricing"}},
	{"Testimonials", []string{"testimonial"}},
	{"Features", []string{"features"}},
	{"Hero", []string{"hero"}},
	{"Form", []string{"<form"}},
	{"Card", []string{"card"}},
	{"Button", []string{"<button"}},
}

// DetectComponent names the component a snippet defines: the exported
// function name when there is one, otherwise a guess from its markup.
func DetectComponent(code string) string {
	if m := exportedComponent.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	lower := strings.ToLower(code)
	for _, c := range componentLabels {
		for _, n := range c.needle {
			if strings.Contains(lower, n) {
				return c.label
			}
		}
	}
	return "Component"
}
