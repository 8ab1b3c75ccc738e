package model

import (
	"path/filepath"
	"strings"
)

// fingerprintTokens bounds how many argv tokens (after argv[0]) contribute
// to a fingerprint, so two invocations of the same program with different
// trailing data (timestamps, random ports) still collapse to one identity.
const fingerprintTokens = 3

// Fingerprint normalizes a process name and command line into the
// recidivism tracker's grouping key: argv[0]'s basename followed by the
// first fingerprintTokens remaining tokens, each stripped of any path.
func Fingerprint(name, cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return name
	}

	parts := make([]string, 0, fingerprintTokens+1)
	parts = append(parts, filepath.Base(fields[0]))

	for i := 1; i < len(fields) && i <= fingerprintTokens; i++ {
		tok := fields[i]
		if strings.ContainsRune(tok, '/') {
			tok = filepath.Base(tok)
		}
		parts = append(parts, tok)
	}
	return strings.Join(parts, " ")
}
