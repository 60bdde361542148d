package prompt

import (
	"github.com/manifoldco/promptui"
)

// SelectOption is one entry of a Select list.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

func selectTemplates(withDetails bool) *promptui.SelectTemplates {
	t := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
	}
	if withDetails {
		t.Details = `
{{ "Description:" | faint }}	{{ .Description }}`
	}
	return t
}

// Select prompts the user to pick one option and returns its Value.
func Select(label string, options []SelectOption) (string, error) {
	prompt := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: selectTemplates(len(options) > 0 && options[0].Description != ""),
		Size:      10,
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
