package keys

import (
	"github.com/t14raptor/go-fast/ast"
)

// Kind names an extractor in candidate provenance.
type Kind string

const (
	KindCharCode  Kind = "char-code"
	KindArrayJoin Kind = "array-join"
	KindConcat    Kind = "concatenated-function"
	KindReversed  Kind = "reversed-string"
)

// Site is one node the engine offers to every extractor: an expression, or a
// function together with the name it is declared under.
type Site struct {
	Expr *ast.Expression
	Func *ast.FunctionLiteral
	Name string
}

// Outcome is a string an extractor built and the identifiers it came from.
type Outcome struct {
	Value   string
	Sources []string
}

// Extractor recognises one key-construction idiom. Attempt reports matched
// false when the site is not its idiom; a matched site yields either an
// outcome or an error saying what could not be resolved.
type Extractor interface {
	Kind() Kind
	Attempt(site Site, t *Tables) (out Outcome, matched bool, err error)
}

// DefaultExtractors returns every built-in extractor in evaluation order.
func DefaultExtractors() []Extractor {
	return []Extractor{
		charCodeExtractor{},
		arrayJoinExtractor{},
		concatExtractor{},
		reversedExtractor{},
	}
}
