// A program that creates the lspbridge edit history database, and
// optionally runs a query on it.
package main

import (
	"database/sql"
	"flag"
	"io"
	"os"

	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/filmil/lspbridge/pkg/store"
)

func main() {
	defer func() {
		glog.Flush()
	}()
	var (
		// The database name.
		dbFilename string
		// The query to execute on the database once it is created.
		dbQueryFile string
	)

	flag.StringVar(&dbFilename, "db", "", "The file name for the edit history database")
	flag.StringVar(&dbQueryFile, "query-file", "", "The query to execute on the created database.")

	flag.Parse()

	if dbFilename == "" {
		glog.Fatalf("flag --db=... is required")
	}

	if _, err := store.CreateDBFile(dbFilename); err != nil {
		glog.Fatalf("could not create db file: %v: %v", dbFilename, err)
	}

	db, err := sql.Open(store.SqliteDriver, dbFilename)
	if err != nil {
		glog.Fatalf("could not open database: %v: %v", dbFilename, err)
	}
	defer db.Close()
	if err := store.CreateSchema(db); err != nil {
		glog.Fatalf("could not create: %v: %v", dbFilename, err)
	}

	if dbQueryFile == "" {
		return
	}
	f, err := os.Open(dbQueryFile)
	if err != nil {
		glog.Fatalf("could not open query file: %q: %v", dbQueryFile, err)
	}
	defer f.Close()

	q, err := io.ReadAll(f)
	if err != nil {
		glog.Fatalf("could not read query file: %q: %v", dbQueryFile, err)
	}

	if _, err := db.Exec(string(q)); err != nil {
		glog.Fatalf("could not execute query: %v", err)
	}
}
