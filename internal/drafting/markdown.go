package drafting

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {key} placeholders in prompt templates.
var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// FormatPrompt substitutes {key} placeholders in template with values.
// Unlike fmt-style formatting it only touches placeholders whose key is
// present in values; unknown placeholders are left verbatim and their keys
// are returned so the caller can log them. Prompt templates routinely carry
// literal braces (JSON examples), which must survive formatting.
func FormatPrompt(template string, values map[string]string) (string, []string) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})
	return out, missing
}

// headerRe matches a markdown header line's leading hash run.
var headerRe = regexp.MustCompile(`^(#+)\s`)

// DemoteHeaders shifts every markdown header down so a level-1 header lands
// on startingLevel, preserving the document's internal hierarchy.
func DemoteHeaders(markdown string, startingLevel int) string {
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		lines[i] = strings.Repeat("#", level+startingLevel-1) + line[level:]
	}
	return strings.Join(lines, "\n")
}

// NormalizeHeaders adjusts header levels so the document's first header
// becomes level 1 and the rest keep their relative depth. Levels never drop
// below 1.
func NormalizeHeaders(markdown string) string {
	lines := strings.Split(markdown, "\n")
	adjustment := -1
	for i, line := range lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := len(m[1])
		if adjustment < 0 {
			adjustment = level - 1
		}
		newLevel := level - adjustment
		if newLevel < 1 {
			newLevel = 1
		}
		lines[i] = strings.Repeat("#", newLevel) + line[level:]
	}
	return strings.Join(lines, "\n")
}

// NormalizeDemoteHeaders normalizes the hierarchy and then demotes it so
// the first header sits exactly at startingLevel. Used when a generated
// document is embedded under an existing outline.
func NormalizeDemoteHeaders(markdown string, startingLevel int) string {
	return DemoteHeaders(NormalizeHeaders(markdown), startingLevel)
}

// CreateTag wraps content in an XML-style tag block.
func CreateTag(name, content string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", name, content, name)
}

// RemoveTag strips the first <name>...</name> block from text. Returns the
// remaining text and the inner content; when the tag is absent the text
// comes back unchanged with an empty inner.
func RemoveTag(text, name string) (remaining, inner string) {
	startTag := "<" + name + ">"
	endTag := "</" + name + ">"

	start := strings.Index(text, startTag)
	if start == -1 {
		return text, ""
	}
	contentStart := start + len(startTag)
	end := strings.Index(text[contentStart:], endTag)
	if end == -1 {
		return text, ""
	}
	contentEnd := contentStart + end
	return text[:start] + text[contentEnd+len(endTag):], text[contentStart:contentEnd]
}

// ReplaceTag swaps the content of the first <name>...</name> block for
// newContent. When the tag is absent the block is appended at the bottom.
func ReplaceTag(text, name, newContent string) string {
	startTag := "<" + name + ">"
	endTag := "</" + name + ">"

	start := strings.Index(text, startTag)
	if start != -1 {
		contentStart := start + len(startTag)
		if end := strings.Index(text[contentStart:], endTag); end != -1 {
			return text[:contentStart] + newContent + text[contentStart+end:]
		}
	}
	return text + "\n" + startTag + newContent + endTag
}

// RetrieveTag returns the inner content of the first <name>...</name>
// block, or "" when the tag is absent or unterminated.
func RetrieveTag(text, name string) string {
	startTag := "<" + name + ">"
	endTag := "</" + name + ">"

	start := strings.Index(text, startTag)
	if start == -1 {
		return ""
	}
	contentStart := start + len(startTag)
	end := strings.Index(text[contentStart:], endTag)
	if end == -1 {
		return ""
	}
	return text[contentStart : contentStart+end]
}

// fenceRe matches opening fences with an optional language tag and bare
// closing fences, each with the trailing newline when present.
var fenceRe = regexp.MustCompile("```[a-zA-Z]*\n?|```\n?")

// StripFences removes triple-backtick fence markers, keeping the fenced
// content itself.
func StripFences(s string) string {
	return fenceRe.ReplaceAllString(s, "")
}
