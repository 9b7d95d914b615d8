package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"github.com/mahaj/academy-chat/pkg/auth"
	"github.com/mahaj/academy-chat/pkg/config"
	"github.com/redis/go-redis/v9"
)

// enroll maintains batch rosters: go run ./scripts/enroll -batch 42 -users coach1,student1
func main() {
	batchID := flag.String("batch", "", "batch id")
	users := flag.String("users", "", "comma separated user ids")
	remove := flag.Bool("remove", false, "unenroll instead of enroll")
	flag.Parse()

	if *batchID == "" || *users == "" {
		log.Fatal("-batch and -users are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	ctx := context.Background()
	enrollments := auth.NewRedisEnrollments(rdb)
	ids := strings.Split(*users, ",")

	if *remove {
		for _, id := range ids {
			if err := enrollments.Unenroll(ctx, *batchID, id); err != nil {
				log.Fatal(err)
			}
		}
	} else if err := enrollments.Enroll(ctx, *batchID, ids...); err != nil {
		log.Fatal(err)
	}

	members, err := enrollments.Members(ctx, *batchID)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("batch:%s members: %v", *batchID, members)
}
