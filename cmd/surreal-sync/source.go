package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/surrealdb/surreal-sync/internal/adapter/file"
	"github.com/surrealdb/surreal-sync/internal/adapter/kafka"
	"github.com/surrealdb/surreal-sync/internal/adapter/mongosource"
	"github.com/surrealdb/surreal-sync/internal/adapter/mysqltrigger"
	"github.com/surrealdb/surreal-sync/internal/adapter/neo4j"
	"github.com/surrealdb/surreal-sync/internal/adapter/pgtrigger"
	"github.com/surrealdb/surreal-sync/internal/adapter/pgwal2json"
	syncpkg "github.com/surrealdb/surreal-sync/internal/sync"
	"github.com/surrealdb/surreal-sync/internal/syncerr"
)

// sourceFlags carries the backend-specific options spec §4.2 documents
// per source, shared across `from <source> full|incremental` and
// `drop-capture <source>`.
type sourceFlags struct {
	tables      []string
	collections []string
	labels      []string
	slotName    string

	neo4jTimezone string

	kafkaBrokers     []string
	kafkaTopic       string
	kafkaGroupID     string
	kafkaTable       string
	kafkaProtoFile   string
	kafkaImportPaths []string
	kafkaMessageType string
	kafkaIDField     string

	fileDir     string
	fileIDField string
}

func addSourceFlags(cmd *cobra.Command, sf *sourceFlags, g *globalFlags) {
	fl := cmd.PersistentFlags()
	fl.StringSliceVar(&sf.tables, "tables", nil, "tables to capture (postgres/mysql trigger and wal2json backends)")
	fl.StringSliceVar(&sf.collections, "collections", nil, "collections to capture (mongo backend, empty = discover all)")
	fl.StringSliceVar(&sf.labels, "labels", nil, "node labels to capture (neo4j backend)")
	fl.StringVar(&sf.slotName, "slot-name", "surreal_sync", "logical replication slot name (wal2json backend)")

	fl.StringVar(&sf.neo4jTimezone, "neo4j-timezone", g.cfg.Neo4jTimezone, "timezone for naive neo4j datetimes")

	fl.StringSliceVar(&sf.kafkaBrokers, "kafka-brokers", nil, "kafka seed brokers")
	fl.StringVar(&sf.kafkaTopic, "kafka-topic", "", "kafka topic")
	fl.StringVar(&sf.kafkaGroupID, "kafka-group-id", "surreal-sync", "kafka consumer group id")
	fl.StringVar(&sf.kafkaTable, "kafka-table", "", "target table every decoded kafka message upserts into")
	fl.StringVar(&sf.kafkaProtoFile, "kafka-proto-file", "", "path to the .proto file describing the message schema")
	fl.StringSliceVar(&sf.kafkaImportPaths, "kafka-proto-import-path", nil, "additional .proto import directories")
	fl.StringVar(&sf.kafkaMessageType, "kafka-message-type", "", "fully qualified protobuf message name")
	fl.StringVar(&sf.kafkaIDField, "kafka-id-field", "id", "field used to derive the record id when not keyed by message key")

	fl.StringVar(&sf.fileDir, "dir", ".", "directory of JSONL/CSV files")
	fl.StringVar(&sf.fileIDField, "id-field", "id", "field used as the record id")
}

// buildAdapter constructs the Adapter for backend, plus the database_type
// label persisted in checkpoint envelopes and a cleanup func. backend
// matches spec §4.2's per-source names: mongo, postgres-trigger, mysql,
// postgres-wal2json, neo4j, kafka.
func buildAdapter(ctx context.Context, backend string, g *globalFlags, sf *sourceFlags) (syncpkg.Adapter, string, func() error, error) {
	switch backend {
	case "mongo", "mongodb":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(g.sourceURI))
		if err != nil {
			return nil, "", nil, syncerr.Wrap(syncerr.Connectivity, "connect to mongodb", err)
		}
		a := mongosource.New(client, mongosource.Config{Database: g.sourceDatabase, Collections: sf.collections})
		return a, "mongo", func() error { return client.Disconnect(ctx) }, nil

	case "postgres-trigger", "postgres", "pg-trigger":
		a, err := pgtrigger.New(ctx, pgtrigger.Config{DSN: g.sourceURI, Tables: sf.tables})
		if err != nil {
			return nil, "", nil, err
		}
		return a, "postgres-trigger", a.Close, nil

	case "mysql", "mysql-trigger":
		a, err := mysqltrigger.New(ctx, mysqltrigger.Config{DSN: g.sourceURI, Tables: sf.tables})
		if err != nil {
			return nil, "", nil, err
		}
		return a, "mysql", a.Close, nil

	case "postgres-wal2json", "wal2json":
		a, err := pgwal2json.New(ctx, pgwal2json.Config{DSN: g.sourceURI, SlotName: sf.slotName, Tables: sf.tables})
		if err != nil {
			return nil, "", nil, err
		}
		return a, "postgres-wal2json", a.Close, nil

	case "neo4j":
		loc, err := time.LoadLocation(sf.neo4jTimezone)
		if err != nil {
			return nil, "", nil, syncerr.Wrap(syncerr.Configuration, fmt.Sprintf("load timezone %s", sf.neo4jTimezone), err)
		}
		a, err := neo4j.New(ctx, neo4j.Config{
			URI:               g.sourceURI,
			Username:          g.sourceUsername,
			Password:          g.sourcePassword,
			Database:          g.sourceDatabase,
			Labels:            sf.labels,
			TimestampProperty: "updated_at",
			Timezone:          loc,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return a, "neo4j", a.Close, nil

	case "kafka":
		strategy := kafka.IDFromField
		a, err := kafka.New(ctx, kafka.Config{
			Brokers:     sf.kafkaBrokers,
			Topic:       sf.kafkaTopic,
			GroupID:     sf.kafkaGroupID,
			Table:       sf.kafkaTable,
			ProtoFile:   sf.kafkaProtoFile,
			ImportPaths: sf.kafkaImportPaths,
			MessageType: sf.kafkaMessageType,
			IDStrategy:  strategy,
			IDField:     sf.kafkaIDField,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return a, "kafka", a.Close, nil

	case "csv", "jsonl", "file":
		a := file.New(file.Config{Dir: sf.fileDir, IDField: sf.fileIDField})
		return a, "file", func() error { return nil }, nil

	default:
		return nil, "", nil, syncerr.New(syncerr.Configuration, fmt.Sprintf("unknown source backend %q", backend))
	}
}
