package main

import (
	"flag"
	"log"

	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/mahaj/academy-chat/pkg/db"
)

func main() {
	replication := flag.Int("replication", 1, "keyspace replication factor")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := db.EnsureSchema(cfg.ScyllaHosts, cfg.ScyllaKeyspace, *replication); err != nil {
		log.Fatal(err)
	}
	log.Printf("Tables %v ready in %s", db.Tables, cfg.ScyllaKeyspace)
}
