package portal

import (
	"unicode/utf8"
)

// Param is an extra field shown on the WiFi form and read back by
// /wifisave. A Param with an empty ID is a raw HTML fragment with no
// value.
type Param struct {
	ID          string
	Placeholder string
	Length      int
	CustomHTML  string

	value string
}

// NewParam creates a form field. The default value is truncated to length.
func NewParam(id, placeholder, defaultValue string, length int, customHTML string) *Param {
	p := &Param{
		ID:          id,
		Placeholder: placeholder,
		Length:      length,
		CustomHTML:  customHTML,
	}
	p.SetValue(defaultValue)
	return p
}

// NewHTMLParam creates a fragment that is inserted into the form as is.
func NewHTMLParam(html string) *Param {
	return &Param{CustomHTML: html}
}

// Value returns the current value.
func (p *Param) Value() string {
	return p.value
}

// SetValue stores v, cutting it to Length bytes without splitting a
// character. Over-long input is never rejected.
func (p *Param) SetValue(v string) {
	p.value = truncate(v, p.Length)
}

func truncate(v string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(v) <= n {
		return v
	}
	v = v[:n]
	for len(v) > 0 && !utf8.ValidString(v) {
		v = v[:len(v)-1]
	}
	return v
}

// IsHTML reports whether p is a raw fragment.
func (p *Param) IsHTML() bool {
	return p.ID == ""
}
