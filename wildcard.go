// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package gpukv

import (
	"fmt"
	"regexp"
	"strings"
)

// isWildcard reports whether key contains any of
// the wildcard metacharacters and therefore
// expands against the live key set rather than
// resolving directly.
func isWildcard(key string) bool {
	return strings.ContainsAny(key, "%_[]")
}

// wildcardRegexp translates a key pattern into an
// anchored regular expression: % matches any run,
// _ matches one character, bracket classes pass
// through, and everything else is literal.
func wildcardRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); {
		switch pattern[i] {
		case '%':
			b.WriteString(".*")
			i++
		case '_':
			b.WriteString(".")
			i++
		case '[':
			j := strings.IndexByte(pattern[i:], ']')
			if j < 0 {
				return nil, fmt.Errorf("%w: unterminated class in pattern %q", ErrInvalidArgument, pattern)
			}
			b.WriteString(pattern[i : i+j+1])
			i += j + 1
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidArgument, pattern, err)
	}
	return re, nil
}
