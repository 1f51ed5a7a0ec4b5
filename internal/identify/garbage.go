package identify

import (
	"regexp"
	"strings"
	"unicode"
)

// fallbackTemplates are placeholder names providers return instead of an
// identification.
var fallbackTemplates = map[string]bool{
	"unknown item":           true,
	"unidentified item":      true,
	"unknown":                true,
	"unknown product":        true,
	"unknown object":         true,
	"item":                   true,
	"n/a":                    true,
	"none":                   true,
	"not available":          true,
	"unable to identify":     true,
	"cannot identify":        true,
	"no item identified":     true,
	"image analysis":         true,
	"analysis":               true,
	"item analysis":          true,
	"product identification": true,
}

// brandTokens are provider and model family names.
var brandTokens = map[string]bool{
	"google": true, "gemini": true, "bard": true, "openai": true, "gpt": true,
	"chatgpt": true, "claude": true, "anthropic": true, "llama": true, "meta": true,
	"mistral": true, "pixtral": true, "grok": true, "xai": true, "deepseek": true,
	"qwen": true, "perplexity": true, "sonar": true, "ai": true,
}

// tierTokens name model tiers. They only count as branding next to a brand
// token: "Vision Pro" is a product, "Gemini Pro Vision" is not.
var tierTokens = map[string]bool{
	"model": true, "pro": true, "flash": true, "mini": true, "turbo": true,
	"vision": true, "sonnet": true, "opus": true, "haiku": true, "preview": true,
}

// fillerWords carry no item identity on their own.
var fillerWords = map[string]bool{
	"analysis": true, "result": true, "results": true, "response": true,
	"item": true, "unknown": true, "identified": true, "identification": true,
	"unidentified": true, "the": true, "a": true, "an": true, "of": true,
	"product": true, "object": true, "image": true, "photo": true,
}

// versionToken matches model version fragments like "4o", "2", "v3".
var versionToken = regexp.MustCompile(`^v?\d+[a-z]?$`)

// IsGarbageName reports whether name is a placeholder rather than a real
// identification: empty, shorter than 3 characters, a known fallback
// template, or made only of provider brand tokens and filler words.
func IsGarbageName(name string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if len([]rune(normalized)) < 3 {
		return true
	}
	if fallbackTemplates[normalized] {
		return true
	}

	tokens := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return true
	}

	branded := containsBrand(tokens)
	for _, tok := range tokens {
		switch {
		case brandTokens[tok], fillerWords[tok]:
		case branded && (tierTokens[tok] || versionToken.MatchString(tok)):
		default:
			return false
		}
	}
	return true
}

func containsBrand(tokens []string) bool {
	for _, tok := range tokens {
		if brandTokens[tok] {
			return true
		}
	}
	return false
}
