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
	"testing"
)

func TestWildcardTranslation(t *testing.T) {
	testcases := []struct {
		pattern string
		match   []string
		reject  []string
	}{
		{"user:%", []string{"user:", "user:1", "user:abc"}, []string{"user", "xuser:1"}},
		{"user:_", []string{"user:1", "user:x"}, []string{"user:", "user:10"}},
		{"a[bc]d", []string{"abd", "acd"}, []string{"aad", "abcd"}},
		{"50%", []string{"50", "500", "50x"}, []string{"5", "150"}},
		{"a.b%", []string{"a.b", "a.bc"}, []string{"aXb"}},
		{"(x)_", []string{"(x)1"}, []string{"x1"}},
	}
	for _, tc := range testcases {
		re, err := wildcardRegexp(tc.pattern)
		if err != nil {
			t.Fatalf("%q: %v", tc.pattern, err)
		}
		for _, s := range tc.match {
			if !re.MatchString(s) {
				t.Errorf("%q should match %q (re %q)", tc.pattern, s, re)
			}
		}
		for _, s := range tc.reject {
			if re.MatchString(s) {
				t.Errorf("%q should not match %q (re %q)", tc.pattern, s, re)
			}
		}
	}
	if _, err := wildcardRegexp("a[bc"); err == nil {
		t.Error("unterminated class accepted")
	}
}

func TestIsWildcard(t *testing.T) {
	for _, s := range []string{"a%", "_", "x[0]", "y]"} {
		if !isWildcard(s) {
			t.Errorf("isWildcard(%q) = false", s)
		}
	}
	for _, s := range []string{"plain", "dots.ok", "sla/sh", ""} {
		if isWildcard(s) {
			t.Errorf("isWildcard(%q) = true", s)
		}
	}
}
