package bot

import "strings"

// ParsedCommand is a command verb and its argument string.
type ParsedCommand struct {
	Verb     string
	Argument string
}

// ParseCommand splits body into a lower-cased verb and its argument. It
// reports false when body does not start with prefix or carries no verb.
func ParseCommand(body, prefix string) (ParsedCommand, bool) {
	if prefix == "" || !strings.HasPrefix(strings.ToLower(body), strings.ToLower(prefix)) {
		return ParsedCommand{}, false
	}
	fields := strings.Fields(body[len(prefix):])
	if len(fields) == 0 {
		return ParsedCommand{}, false
	}
	return ParsedCommand{
		Verb:     strings.ToLower(fields[0]),
		Argument: ExtractArgument(body, prefix),
	}, true
}

// ExtractArgument drops the prefix and the verb token from body and returns
// the remaining words joined by single spaces. A missing argument is "".
func ExtractArgument(body, prefix string) string {
	if len(body) < len(prefix) {
		return ""
	}
	fields := strings.Fields(body[len(prefix):])
	if len(fields) <= 1 {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
