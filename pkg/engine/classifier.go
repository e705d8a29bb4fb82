package engine

import "strings"

// DefaultPasswordKeywords mark a failure as a password problem.
var DefaultPasswordKeywords = []string{"invalid password", "password", "encrypt"}

// KeywordClassifier classifies failures by case-insensitive substring match.
//
// The engine reports failures as free text, so this is a heuristic: any
// message mentioning "password" is treated as a password problem, even when
// the word comes from an unrelated context such as a file name. Callers that
// get structured codes from a better engine binding should supply their own
// Classifier.
type KeywordClassifier struct {
	// Keywords overrides DefaultPasswordKeywords when non-empty.
	Keywords []string
}

// Classify implements Classifier. Only Decrypt and RemoveRestrictions can
// yield FailureBadPassword.
func (c KeywordClassifier) Classify(kind OperationKind, message string) FailureKind {
	if kind != OperationDecrypt && kind != OperationRemoveRestrictions {
		return FailureGeneric
	}

	keywords := c.Keywords
	if len(keywords) == 0 {
		keywords = DefaultPasswordKeywords
	}

	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return FailureBadPassword
		}
	}
	return FailureGeneric
}
