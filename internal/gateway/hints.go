package gateway

import "strings"

// hintRules maps substrings of provider messages to static remediation
// hints. Pure formatting: the hint never changes the error's
// classification, only what the user sees under it.
var hintRules = []struct {
	contains string
	hint     string
}{
	{
		contains: "cannot be found",
		hint:     "Hint: a referenced table or column does not exist. Check spelling and use fully qualified names like 'Table'[Column].",
	},
	{
		contains: "column",
		hint:     "Hint: column references must be qualified with their table, e.g. 'Sales'[Amount].",
	},
	{
		contains: "syntax",
		hint:     "Hint: the query text was rejected by the provider's parser. Re-check quoting and bracket placement.",
	},
	{
		contains: "dataset",
		hint:     "Hint: verify the dataset identifier and that your account has access to it.",
	},
}

// hintFor returns the first matching static hint for a provider message,
// or empty string.
func hintFor(message string) string {
	lower := strings.ToLower(message)

	for _, rule := range hintRules {
		if strings.Contains(lower, rule.contains) {
			return rule.hint
		}
	}

	return ""
}
