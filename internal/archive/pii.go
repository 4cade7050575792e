package archive

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// North American and French national/international formats.
	phoneRe = regexp.MustCompile(`(\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4})|((\+33\s?|0)[1-9]([-.\s]?[0-9]{2}){4})`)
)

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Names and addresses are kept since the claim file needs them.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
