package cryptoutils

import (
	"strings"
)

const fullNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 ',./!@#%^&*()-_=+"

// SanitizeFullName drops every character outside the display-name allow-list.
func SanitizeFullName(name string) string {
	return keepOnly(name, fullNameChars)
}

// SanitizeIdentifier keeps lowercase ASCII letters, digits and '-'. It is
// applied to cloud resource ids before they reach a boot script.
func SanitizeIdentifier(id string) string {
	return keepOnly(id, "abcdefghijklmnopqrstuvwxyz0123456789-")
}

func keepOnly(s, allowed string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 128 && strings.ContainsRune(allowed, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
