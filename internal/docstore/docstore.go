// Package docstore is the MongoDB implementation of the store contracts.
// Documents use the bson tags declared on the domain types; ids are uuid
// strings generated in Go so both drivers expose the same identifiers.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"roadmap/internal/config"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// Collection names.
const (
	usersCollection  = "users"
	plansCollection  = "plans"
	skillsCollection = "skills"
	topicsCollection = "topics"
	tasksCollection  = "tasks"
)

// Connect opens a client for cfg.MongoURI and pings the primary.
func Connect(ctx context.Context, cfg config.StoreConfig) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoURI.Unmask()).
		SetConnectTimeout(10 * time.Second).
		SetMaxPoolSize(uint64(max(cfg.MaxConns, 1))).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// NewSet wires every repository to the named database.
func NewSet(client *mongo.Client, database string) *store.Set {
	db := client.Database(database)
	return &store.Set{
		Users:  NewUserRepository(db),
		Plans:  NewPlanRepository(db),
		Skills: NewSkillRepository(db),
		Topics: NewTopicRepository(db),
		Tasks:  NewTaskRepository(db),
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		Close: client.Disconnect,
	}
}

// EnsureIndexes creates the unique and lookup indexes the repositories rely
// on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "externalIdentityId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("externalIdentityId_unique")},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("email_unique")},
			{Keys: bson.D{{Key: "externalBillingCustomerId", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		plansCollection: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		skillsCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		topicsCollection: {
			{Keys: bson.D{{Key: "skillId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		tasksCollection: {
			{Keys: bson.D{{Key: "topicId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}

	for name, models := range specs {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("creating %s indexes: %w", name, err)
		}
	}
	return nil
}

// lookupError maps a single-document read error onto code.
func lookupError(err error, code types.ErrorCode, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.NewAppError(code, notFoundMessage(code), nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, op, err)
}

func notFoundMessage(code types.ErrorCode) string {
	switch code {
	case types.ErrCodeNotFoundPlan:
		return "plan not found"
	case types.ErrCodeNotFoundSkill:
		return "skill not found"
	case types.ErrCodeNotFoundTopic:
		return "topic not found"
	case types.ErrCodeNotFoundTask:
		return "task not found"
	}
	return "user not found"
}

// duplicateKeyIndex returns the violated index name fragment when err is a
// duplicate key error.
func duplicateKeyIndex(err error) (string, bool) {
	if !mongo.IsDuplicateKeyError(err) {
		return "", false
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "email"):
		return "email", true
	case strings.Contains(msg, "externalIdentityId"):
		return "externalIdentityId", true
	}
	return "", true
}

// byID is the primary key filter.
func byID(id string) bson.M {
	return bson.M{"_id": id}
}

// ascending sorts by creation time with the id as tie breaker.
func ascending() *options.FindOptionsBuilder {
	return options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
}

// idsOf runs filter against coll and returns the matched _id values.
func idsOf(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]string, error) {
	cur, err := coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
