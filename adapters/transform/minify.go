package transform

import (
	"context"
	"fmt"

	"github.com/gorilla/css/scanner"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"

	"github.com/artpar/bundlegate/domain/fragment"
)

const (
	mediaCSS = "text/css"
	mediaJS  = "application/javascript"
)

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaJS, js.Minify)
	return m
}()

// MinifyCSS strips whitespace and redundant syntax from stylesheets.
func MinifyCSS() Func {
	return NewFunc(fragment.TransformMinifyCSS, func(_ context.Context, _ string, in []byte) ([]byte, error) {
		return minifier.Bytes(mediaCSS, in)
	})
}

// MinifyJS minifies scripts.
func MinifyJS() Func {
	return NewFunc(fragment.TransformMinifyJS, func(_ context.Context, _ string, in []byte) ([]byte, error) {
		return minifier.Bytes(mediaJS, in)
	})
}

// SyntaxError locates a tokenization failure in a stylesheet.
type SyntaxError struct {
	Line   int
	Column int
	Token  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("css syntax error at %d:%d near %q", e.Line, e.Column, e.Token)
}

// Stylesheet is the raw-CSS pass-through. Content is unchanged but must
// tokenize cleanly so broken stylesheets fail the build, not the browser.
func Stylesheet() Func {
	return NewFunc(fragment.TransformCSS, func(_ context.Context, _ string, in []byte) ([]byte, error) {
		s := scanner.New(string(in))
		for {
			tok := s.Next()
			switch tok.Type {
			case scanner.TokenEOF:
				return in, nil
			case scanner.TokenError:
				return nil, &SyntaxError{Line: tok.Line, Column: tok.Column, Token: tok.Value}
			}
		}
	})
}
