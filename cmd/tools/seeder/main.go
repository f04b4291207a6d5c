// Command seeder imports an MVA configuration file into the Postgres store and
// schedules a snapshot rebuild so running instances pick up the new table.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-petshop/internal/app"
	"github.com/noah-isme/backend-petshop/internal/db"
	"github.com/noah-isme/backend-petshop/internal/mva"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	file := flag.String("file", os.Getenv("MVA_FILE_PATH"), "MVA configuration file (yaml, json or toml)")
	migrateFirst := flag.Bool("migrate", true, "apply schema migrations before importing")
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, err := mva.NewFileSource(*file)
	if err != nil {
		log.Fatalf("Failed to open MVA file: %v", err)
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		log.Fatalf("Failed to read MVA file: %v", err)
	}
	// reject the whole file before touching the database
	if _, err := mva.NewTable(src.Name(), entries); err != nil {
		log.Fatalf("Invalid MVA file: %v", err)
	}

	if *migrateFirst {
		m, err := db.NewMigrate(dbURL)
		if err != nil {
			log.Fatalf("Failed to prepare migrations: %v", err)
		}
		if err := db.Up(m); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		_, _ = m.Close()
	}

	pool, err := app.ConnectPostgres(ctx, dbURL, "petshop-seeder")
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}
	defer pool.Close()

	store := mva.NewStore(pool)
	for _, e := range entries {
		if _, err := store.Upsert(ctx, e); err != nil {
			log.Fatalf("Failed to upsert %s: %v", e.Key, err)
		}
	}
	log.Printf("Imported %d MVA entries from %s", len(entries), src.Path())

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := app.AsynqRedisOpt(redisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := asynq.NewClient(opt)
		defer client.Close()
		if err := (mva.Scheduler{Client: client}).Schedule(ctx, "seeder"); err != nil {
			log.Printf("Failed to schedule rebuild: %v", err)
		}
	}

	log.Println("Seeding completed successfully!")
}
