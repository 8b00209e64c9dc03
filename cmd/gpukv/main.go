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

// gpukv is a driver for the device-resident
// key/value store running against the in-memory
// reference device: it creates stores from a YAML
// definition file, ingests newline-delimited JSON
// (optionally zstd-compressed), and runs lookups,
// wildcard reads and ordered scans.
//
// usage:
//
//	gpukv -d defs.yaml load  <store> <data.ndjson[.zst]>
//	gpukv -d defs.yaml get   <store> <data...> <key-or-pattern...>
//	gpukv -d defs.yaml order <store> <data...> <definition>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/SnellerInc/gpukv"
	"github.com/SnellerInc/gpukv/gpu/gpumem"
)

var (
	dashv   bool
	defpath string
	keyname string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.StringVar(&defpath, "d", "stores.yaml", "store definition file")
	flag.StringVar(&keyname, "key", "id", "document field used as the record key")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	os.Exit(1)
}

type applet struct {
	name string
	help string
	run  func(db *gpukv.DB, args []string)
}

var applets []applet

func init() {
	applets = []applet{
		{"load", "load <store> <data.ndjson[.zst]>", cmdLoad},
		{"get", "get <store> <data.ndjson[.zst]> <key-or-pattern...>", cmdGet},
		{"order", "order <store> <data.ndjson[.zst]> <definition>", cmdOrder},
	}
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	dev := gpumem.New(gpumem.DefaultLimits)
	var opts []gpukv.Option
	if dashv {
		opts = append(opts, gpukv.WithLogger(log.New(os.Stderr, "gpukv: ", 0)))
	}
	db, err := gpukv.Open(dev, opts...)
	if err != nil {
		exitf("opening db: %s\n", err)
	}
	defer db.Close()
	if err := createStores(db, defpath); err != nil {
		exitf("%s: %s\n", defpath, err)
	}
	for i := range applets {
		if applets[i].name == args[0] {
			applets[i].run(db, args[1:])
			return
		}
	}
	usage()
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gpukv [-v] [-d defs.yaml] [-key field] <command> ...")
	for i := range applets {
		fmt.Fprintf(os.Stderr, "  gpukv %s\n", applets[i].help)
	}
	os.Exit(1)
}

func store(db *gpukv.DB, name string) *gpukv.Store {
	st, err := db.Store(name)
	if err != nil {
		exitf("%s\n", err)
	}
	return st
}

func cmdLoad(db *gpukv.DB, args []string) {
	if len(args) != 2 {
		usage()
	}
	st := store(db, args[0])
	ctx := context.Background()
	start := time.Now()
	n, err := ingest(ctx, st, args[1], keyname)
	if err != nil {
		exitf("ingesting %s: %s\n", args[1], err)
	}
	if err := st.AwaitReady(ctx); err != nil {
		exitf("awaiting flush: %s\n", err)
	}
	stats := st.Stats()
	fmt.Printf("%d records in %s; %d chunk(s), %d/%d bytes, etag %s\n",
		n, time.Since(start), stats.Chunks, stats.UsedBytes, stats.CapacityBytes, stats.LastFlushETag)
}

func cmdGet(db *gpukv.DB, args []string) {
	if len(args) < 3 {
		usage()
	}
	st := store(db, args[0])
	ctx := context.Background()
	if _, err := ingest(ctx, st, args[1], keyname); err != nil {
		exitf("ingesting %s: %s\n", args[1], err)
	}
	vals, err := st.GetMany(ctx, args[2:])
	if err != nil {
		exitf("get: %s\n", err)
	}
	for _, v := range vals {
		text, err := json.Marshal(v)
		if err != nil {
			exitf("encoding result: %s\n", err)
		}
		fmt.Printf("%s\n", text)
	}
}

func cmdOrder(db *gpukv.DB, args []string) {
	if len(args) != 3 {
		usage()
	}
	st := store(db, args[0])
	ctx := context.Background()
	if _, err := ingest(ctx, st, args[1], keyname); err != nil {
		exitf("ingesting %s: %s\n", args[1], err)
	}
	keys, err := st.OrderedKeys(ctx, args[2])
	if err != nil {
		exitf("order %s: %s\n", args[2], err)
	}
	for _, k := range keys {
		fmt.Println(k)
	}
}
