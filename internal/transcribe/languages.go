package transcribe

import "strings"

// Language is a selectable transcription language with the code each
// provider expects when it differs from the base code.
type Language struct {
	Code      string            `json:"code"`
	Label     string            `json:"label"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// Languages is the list offered to users, English first. Sarvam only serves
// Indian languages, so other languages are sent to it as Indian English.
var Languages = []Language{
	{Code: "en", Label: "English", Overrides: map[string]string{"google": "en-US", "sarvam": "en-IN"}},
	{Code: "hi", Label: "Hindi", Overrides: map[string]string{"google": "hi-IN", "sarvam": "hi-IN"}},
	{Code: "es", Label: "Spanish", Overrides: map[string]string{"google": "es-ES", "sarvam": "en-IN"}},
	{Code: "fr", Label: "French", Overrides: map[string]string{"google": "fr-FR", "sarvam": "en-IN"}},
	{Code: "de", Label: "German", Overrides: map[string]string{"google": "de-DE", "sarvam": "en-IN"}},
	{Code: "pt", Label: "Portuguese", Overrides: map[string]string{"google": "pt-BR", "sarvam": "en-IN"}},
	{Code: "ja", Label: "Japanese", Overrides: map[string]string{"google": "ja-JP", "sarvam": "en-IN"}},
	{Code: "zh", Label: "Chinese (Mandarin)", Overrides: map[string]string{"speechmatics": "cmn", "sarvam": "en-IN"}},
	{Code: "ko", Label: "Korean", Overrides: map[string]string{"google": "ko-KR", "sarvam": "en-IN"}},
	{Code: "ar", Label: "Arabic", Overrides: map[string]string{"google": "ar-SA", "sarvam": "en-IN"}},
	{Code: "it", Label: "Italian", Overrides: map[string]string{"google": "it-IT", "sarvam": "en-IN"}},
	{Code: "nl", Label: "Dutch", Overrides: map[string]string{"google": "nl-NL", "sarvam": "en-IN"}},
	{Code: "ru", Label: "Russian", Overrides: map[string]string{"google": "ru-RU", "sarvam": "en-IN"}},
	{Code: "tr", Label: "Turkish", Overrides: map[string]string{"google": "tr-TR", "sarvam": "en-IN"}},
}

// LookupLanguage finds a language by code, case-insensitively.
func LookupLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// ProviderLanguage returns the language code to send to provider.
// Unknown languages pass through unchanged.
func ProviderLanguage(code, provider string) string {
	l, ok := LookupLanguage(code)
	if !ok {
		return code
	}
	if c, ok := l.Overrides[provider]; ok {
		return c
	}
	return l.Code
}

// LanguageLabel returns the display name for code, or code itself.
func LanguageLabel(code string) string {
	if l, ok := LookupLanguage(code); ok {
		return l.Label
	}
	return code
}
