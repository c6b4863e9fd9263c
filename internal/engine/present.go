package engine

import (
	"cohortq/internal/federation"
	"errors"
	"strings"
)

type failurePresentation struct {
	code    string
	message string
}

// presentFailure renders a repository error for the console. Outside verbose
// mode request URLs are dropped so tokens or internal hosts embedded in query
// strings never reach the terminal.
func presentFailure(err error, verbose bool) failurePresentation {
	if err == nil {
		return failurePresentation{message: "unknown error"}
	}

	var code string
	var fe *federation.Error
	if errors.As(err, &fe) {
		code = fe.Kind.Code()
	}

	full := strings.TrimSpace(err.Error())
	if verbose {
		return failurePresentation{code: code, message: full}
	}
	if scrubbed := scrubRequestURL(full); scrubbed != "" {
		return failurePresentation{code: code, message: scrubbed}
	}
	return failurePresentation{code: code, message: "repository request failed"}
}

// scrubRequestURL drops the quoted URL net/http puts in transport errors:
//
//	Get "https://repo.example/entities/x?token=...": dial tcp: connection refused
//
// becomes "Get: dial tcp: connection refused".
func scrubRequestURL(s string) string {
	for {
		i := strings.Index(s, ` "http`)
		if i < 0 {
			return strings.TrimSpace(s)
		}
		rest := s[i+2:]
		j := strings.Index(rest, `"`)
		if j < 0 {
			return strings.TrimSpace(s[:i])
		}
		s = s[:i] + rest[j+1:]
	}
}
