package main

import (
	"github.com/coldpipe/coldpipe/cmd"

	// SQL drivers for the supported hot stores and the run journal.
	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

func main() {
	cmd.Execute()
}
