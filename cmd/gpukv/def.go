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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/gpukv"
	"github.com/SnellerInc/gpukv/codec"
)

// storeDef is the YAML shape of one store:
//
//	stores:
//	  - name: people
//	    type: json        # json | numeric | opaque
//	    elem: f32         # numeric only
//	    bufferSize: 1048576
//	    totalRows: 10000
//	    sorts:
//	      - name: byAge
//	        fields:
//	          - {path: age, kind: number, dir: asc}
//	          - {path: name, kind: string, dir: asc}
type storeDef struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Elem       string    `json:"elem,omitempty"`
	BufferSize int64     `json:"bufferSize,omitempty"`
	FixedRow   int64     `json:"fixedRowSize,omitempty"`
	TotalRows  int       `json:"totalRows,omitempty"`
	Sorts      []sortDef `json:"sorts,omitempty"`
}

type sortDef struct {
	Name   string     `json:"name"`
	Fields []fieldDef `json:"fields"`
}

type fieldDef struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Dir  string `json:"dir,omitempty"`
}

type defFile struct {
	Stores []storeDef `json:"stores"`
}

func (d *storeDef) options() (gpukv.StoreOptions, error) {
	opts := gpukv.StoreOptions{
		BufferSize:   d.BufferSize,
		FixedRowSize: d.FixedRow,
		TotalRows:    d.TotalRows,
	}
	switch d.Type {
	case "json", "":
		opts.DataType = codec.JSONDocument
	case "numeric":
		opts.DataType = codec.NumericArray
	case "opaque":
		opts.DataType = codec.OpaqueBytes
	default:
		return opts, fmt.Errorf("store %q: unknown type %q", d.Name, d.Type)
	}
	switch d.Elem {
	case "":
	case "f32":
		opts.ElemKind = codec.ElemF32
	case "f64":
		opts.ElemKind = codec.ElemF64
	case "i32":
		opts.ElemKind = codec.ElemI32
	case "u32":
		opts.ElemKind = codec.ElemU32
	case "u8":
		opts.ElemKind = codec.ElemU8
	default:
		return opts, fmt.Errorf("store %q: unknown element kind %q", d.Name, d.Elem)
	}
	for i := range d.Sorts {
		s := &d.Sorts[i]
		def := codec.Definition{Name: s.Name}
		for j := range s.Fields {
			f := &s.Fields[j]
			field := codec.Field{Path: f.Path}
			switch f.Kind {
			case "string":
				field.Kind = codec.KindString
			case "number":
				field.Kind = codec.KindNumber
			case "date":
				field.Kind = codec.KindDate
			default:
				return opts, fmt.Errorf("sort %q: unknown field kind %q", s.Name, f.Kind)
			}
			switch f.Dir {
			case "asc", "":
				field.Dir = codec.Ascending
			case "desc":
				field.Dir = codec.Descending
			default:
				return opts, fmt.Errorf("sort %q: unknown direction %q", s.Name, f.Dir)
			}
			def.Fields = append(def.Fields, field)
		}
		opts.Sorts = append(opts.Sorts, def)
	}
	return opts, nil
}

// createStores reads a definition file and creates
// every store it names.
func createStores(db *gpukv.DB, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs defFile
	if err := yaml.Unmarshal(buf, &defs); err != nil {
		return err
	}
	if len(defs.Stores) == 0 {
		return fmt.Errorf("no stores defined")
	}
	for i := range defs.Stores {
		opts, err := defs.Stores[i].options()
		if err != nil {
			return err
		}
		if _, err := db.Create(defs.Stores[i].Name, opts); err != nil {
			return err
		}
	}
	return nil
}
