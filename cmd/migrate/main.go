// Command migrate manages the skillvault database schema with goose.
//
// DATABASE_URL must point at the target PostgreSQL instance. Commands are
// passed straight through to goose: up, down, status, version, redo,
// up-to <version>, down-to <version>.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing migration files")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dir migrations] <goose-command> [args]")
		os.Exit(2)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL must be set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("connect to database: %v", err)
	}

	cmd := flag.Arg(0)
	if err := goose.RunContext(context.Background(), cmd, db, *dir, flag.Args()[1:]...); err != nil {
		log.Fatalf("goose %s: %v", cmd, err)
	}
}
