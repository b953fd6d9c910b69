package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/contact-sync/internal/config"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS sync_schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	configPath := flag.String("config", "", "config file (database.url)")
	listOnly := flag.Bool("list", false, "list sync tables and exit")
	flag.Parse()

	dir := "migrations"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if *listOnly {
		if err := listTables(db, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}
	okCount, errCount := apply(db, dir, files, os.Stdout)
	log.Printf("Done: %d applied, %d errors", okCount, errCount)
	if errCount > 0 {
		os.Exit(1)
	}
	log.Println("Migrations complete")
}

func listTables(db *sql.DB, out io.Writer) error {
	rows, err := db.Query("SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename LIKE 'sync_%' ORDER BY tablename")
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Fprintln(out, " ", t)
		n++
	}
	fmt.Fprintf(out, "Total: %d tables\n", n)
	return rows.Err()
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// apply runs each file not yet recorded in sync_schema_migrations in its own
// transaction and records it there.
func apply(db *sql.DB, dir string, files []string, out io.Writer) (okCount, errCount int) {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		fmt.Fprintf(out, "migrations table: %v\n", err)
		return 0, 1
	}

	for _, f := range files {
		var applied bool
		if err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM sync_schema_migrations WHERE name = $1)", f).Scan(&applied); err != nil {
			fmt.Fprintf(out, "  %s ... CHECK ERROR: %v\n", f, err)
			errCount++
			continue
		}
		if applied {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			fmt.Fprintf(out, "  %s ... READ ERROR: %v\n", f, err)
			errCount++
			continue
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Fprintf(out, "  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Fprintf(out, "BEGIN ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Fprintf(out, "ERROR: %v\n", err)
			errCount++
			continue
		}
		if _, err := tx.Exec("INSERT INTO sync_schema_migrations (name) VALUES ($1)", f); err != nil {
			tx.Rollback()
			fmt.Fprintf(out, "RECORD ERROR: %v\n", err)
			errCount++
			continue
		}
		if err := tx.Commit(); err != nil {
			fmt.Fprintf(out, "COMMIT ERROR: %v\n", err)
			errCount++
			continue
		}
		fmt.Fprintln(out, "OK")
		okCount++
	}
	return okCount, errCount
}
