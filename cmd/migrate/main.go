package main

import (
	"database/sql"
	"flag"
	"log"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ticketa/internal/config"
	"ticketa/internal/database/migrations"
)

// Standalone migration tool for deploys that don't want the service applying
// schema changes on boot.
func main() {
	down := flag.Bool("down", false, "roll back all migrations")
	seed := flag.Bool("seed", false, "apply seed data after schema migrations")
	dir := flag.String("dir", "./internal/database/migrations/sql", "migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL: %v", err)
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	runner := migrations.NewRunner(bunDB, migrations.Options{
		MigrationsDir: *dir,
		SeedData:      *seed,
	})
	defer runner.Close()

	if *down {
		if err := runner.Down(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Rolled back all migrations")
		return
	}

	if err := runner.Run(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations applied")
}
