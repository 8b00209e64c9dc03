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

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/SnellerInc/gpukv"
)

// ingest streams newline-delimited JSON documents
// from path into st, keyed by the keyField of each
// document. A .zst suffix selects transparent zstd
// decompression.
func ingest(ctx context.Context, st *gpukv.Store, path, keyField string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var src io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer dec.Close()
		src = dec
	}

	n := 0
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		key, err := recordKey(doc, keyField)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if err := st.Put(ctx, key, doc); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	return n, sc.Err()
}

func recordKey(doc map[string]any, field string) (string, error) {
	v, ok := doc[field]
	if !ok {
		return "", fmt.Errorf("document has no %q field", field)
	}
	switch k := v.(type) {
	case string:
		return k, nil
	case float64:
		if k == float64(int64(k)) {
			return fmt.Sprintf("%d", int64(k)), nil
		}
		return fmt.Sprintf("%v", k), nil
	default:
		return "", fmt.Errorf("%q field is %T, want string or number", field, v)
	}
}
