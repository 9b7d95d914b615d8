package main

import (
	"flag"
	"log"
	"slices"

	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/db"
)

func main() {
	table := flag.String("table", "", "table to drop (default: all chat tables)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	tables := db.Tables
	if *table != "" {
		if !slices.Contains(db.Tables, *table) {
			log.Fatalf("Unknown table %q, expected one of %v", *table, db.Tables)
		}
		tables = []string{*table}
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.ScyllaKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, t := range tables {
		log.Printf("Dropping table %s...", t)
		if err := session.Query("DROP TABLE IF EXISTS " + t).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", t, err)
		}
	}
	log.Println("Tables dropped successfully.")
}
