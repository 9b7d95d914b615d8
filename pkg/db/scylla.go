package db

import (
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v/%s: %w", hosts, keyspace, err)
	}

	log.Printf("[DB] Connected to ScyllaDB cluster (keyspace %s)", keyspace)
	return &Session{Session: session}, nil
}

// Tables in creation order. messages is clustered newest-first so history
// pages read from the head of the partition.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		room_id text,
		id bigint,
		sender_id text,
		sender_email text,
		content text,
		message_type text,
		file_url text,
		created_at timestamp,
		PRIMARY KEY (room_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,

	`CREATE TABLE IF NOT EXISTS read_markers (
		user_id text,
		room_id text,
		read_at timestamp,
		PRIMARY KEY (user_id, room_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		room_id text,
		last_message_id bigint,
		last_updated timestamp,
		PRIMARY KEY (user_id, room_id)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		room_id text,
		unread_count counter,
		PRIMARY KEY (user_id, room_id)
	)`,
}

// Tables lists every table EnsureSchema creates.
var Tables = []string{"messages", "read_markers", "user_conversations", "conversation_counters"}

// EnsureSchema creates the keyspace (through the system keyspace) and all tables.
func EnsureSchema(hosts []string, keyspace string, replication int) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	err = sys.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)).Exec()
	sys.Close()
	if err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}

	session, err := NewSession(hosts, keyspace)
	if err != nil {
		return err
	}
	defer session.Close()

	for i, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	log.Printf("[DB] Schema ready in keyspace %s", keyspace)
	return nil
}
