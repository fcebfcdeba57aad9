package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"photopipe/internal/logging"
	"photopipe/internal/pipeline"
	"photopipe/internal/services"
)

const (
	tasksCollection = "tasks"
	stateCollection = "state"
	sequenceDocID   = "sequence"
)

// MongoOptions configure the Mongo backend.
type MongoOptions struct {
	URI      string
	Database string
	Logger   *slog.Logger
}

// MongoStore keeps tasks in a MongoDB database using the service document
// layout: a tasks collection keyed by task_id and a one-document state
// collection holding latest_task_id.
type MongoStore struct {
	client *mongo.Client
	tasks  *mongo.Collection
	state  *mongo.Collection
	logger *slog.Logger
	now    func() time.Time
}

type taskDocument struct {
	TaskID         int64      `bson:"task_id"`
	Location       string     `bson:"location"`
	Step           int        `bson:"step"`
	StepInProgress bool       `bson:"step_in_progress"`
	Requirements   reqsDoc    `bson:"requirements"`
	Attempts       int        `bson:"attempts"`
	LastError      string     `bson:"last_error,omitempty"`
	DispatchedAt   *time.Time `bson:"dispatched_at,omitempty"`
	HeartbeatAt    *time.Time `bson:"heartbeat_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

type reqsDoc struct {
	NeedsColorChecker bool `bson:"needs_color_checker"`
	NeedsRawImages    bool `bson:"needs_raw_images"`
}

type stateDocument struct {
	ID           string `bson:"_id"`
	LatestTaskID int64  `bson:"latest_task_id"`
}

// OpenMongo connects to MongoDB and ensures the task_id index exists.
func OpenMongo(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if strings.TrimSpace(opts.URI) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "taskstore", "open mongo", "store.mongo_uri is required", nil)
	}
	if strings.TrimSpace(opts.Database) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "taskstore", "open mongo", "store.mongo_database is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, persistence("connect mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, persistence("ping mongo", err)
	}

	db := client.Database(opts.Database)
	store := &MongoStore{
		client: client,
		tasks:  db.Collection(tasksCollection),
		state:  db.Collection(stateCollection),
		logger: logger,
		now:    time.Now,
	}
	if _, err := store.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("task_id_unique"),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, persistence("create task index", err)
	}

	logger.Debug("task store opened", logging.String("backend", "mongo"), logging.String("database", opts.Database))
	return store, nil
}

// Close disconnects the client.
func (m *MongoStore) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// Ping checks connectivity to the primary.
func (m *MongoStore) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return persistence("ping", err)
	}
	return nil
}

// NextTaskID increments the sequence document.
func (m *MongoStore) NextTaskID(ctx context.Context) (int64, error) {
	var doc stateDocument
	err := m.state.FindOneAndUpdate(ctx,
		bson.M{"_id": sequenceDocID},
		bson.M{"$inc": bson.M{"latest_task_id": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, persistence("next task id", err)
	}
	return doc.LatestTaskID, nil
}

// LatestTaskID reports the last assigned id.
func (m *MongoStore) LatestTaskID(ctx context.Context) (int64, error) {
	var doc stateDocument
	err := m.state.FindOne(ctx, bson.M{"_id": sequenceDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, persistence("latest task id", err)
	}
	return doc.LatestTaskID, nil
}

// Insert stores a new task, assigning an id when it has none.
func (m *MongoStore) Insert(ctx context.Context, task pipeline.Task) (pipeline.Task, error) {
	if task.ID == 0 {
		id, err := m.NextTaskID(ctx)
		if err != nil {
			return pipeline.Task{}, err
		}
		task.ID = id
	} else if _, err := m.state.UpdateOne(ctx,
		bson.M{"_id": sequenceDocID},
		bson.M{"$max": bson.M{"latest_task_id": task.ID}},
		options.Update().SetUpsert(true),
	); err != nil {
		return pipeline.Task{}, persistence("raise sequence", err)
	}

	now := m.now().UTC()
	doc := toDocument(task)
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := m.tasks.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return pipeline.Task{}, services.Wrap(services.ErrValidation, "taskstore", "insert",
				fmt.Sprintf("task %d already exists", task.ID), err)
		}
		return pipeline.Task{}, persistence("insert", err)
	}
	return fromDocument(doc), nil
}

// Get fetches one task by id.
func (m *MongoStore) Get(ctx context.Context, id int64) (pipeline.Task, error) {
	var doc taskDocument
	err := m.tasks.FindOne(ctx, bson.M{"task_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return pipeline.Task{}, notFound(id)
	}
	if err != nil {
		return pipeline.Task{}, persistence("get", err)
	}
	return fromDocument(doc), nil
}

// Replace overwrites the stored document with the same task_id, keeping its
// creation time.
func (m *MongoStore) Replace(ctx context.Context, task pipeline.Task) error {
	existing, err := m.Get(ctx, task.ID)
	if err != nil {
		return err
	}
	doc := toDocument(task)
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = m.now().UTC()
	res, err := m.tasks.ReplaceOne(ctx, bson.M{"task_id": task.ID}, doc)
	if err != nil {
		return persistence("replace", err)
	}
	if res.MatchedCount == 0 {
		return notFound(task.ID)
	}
	return nil
}

// Delete removes one task.
func (m *MongoStore) Delete(ctx context.Context, id int64) error {
	res, err := m.tasks.DeleteOne(ctx, bson.M{"task_id": id})
	if err != nil {
		return persistence("delete", err)
	}
	if res.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

// List returns every task ordered by id.
func (m *MongoStore) List(ctx context.Context) ([]pipeline.Task, error) {
	cur, err := m.tasks.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "task_id", Value: 1}}))
	if err != nil {
		return nil, persistence("list", err)
	}
	defer cur.Close(ctx)

	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, persistence("list", err)
	}
	tasks := make([]pipeline.Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, fromDocument(doc))
	}
	return tasks, nil
}

func (m *MongoStore) restartUpdate() bson.M {
	return bson.M{
		"$set": bson.M{
			"step":             int(pipeline.StepNotStarted),
			"step_in_progress": false,
			"attempts":         0,
			"updated_at":       m.now().UTC(),
		},
		"$unset": bson.M{"last_error": "", "dispatched_at": "", "heartbeat_at": ""},
	}
}

// Restart resets one task to NotStarted.
func (m *MongoStore) Restart(ctx context.Context, id int64) error {
	res, err := m.tasks.UpdateOne(ctx, bson.M{"task_id": id}, m.restartUpdate())
	if err != nil {
		return persistence("restart", err)
	}
	if res.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}

// RestartAll resets every task to NotStarted.
func (m *MongoStore) RestartAll(ctx context.Context) (int64, error) {
	res, err := m.tasks.UpdateMany(ctx, bson.M{}, m.restartUpdate())
	if err != nil {
		return 0, persistence("restart all", err)
	}
	return res.MatchedCount, nil
}

// ReportFailure records a failed job for a task still running step.
func (m *MongoStore) ReportFailure(ctx context.Context, id int64, step pipeline.StepIndex, message string) (bool, error) {
	res, err := m.tasks.UpdateOne(ctx,
		bson.M{"task_id": id, "step": int(step), "step_in_progress": true},
		bson.M{
			"$set":   bson.M{"step_in_progress": false, "last_error": message, "updated_at": m.now().UTC()},
			"$inc":   bson.M{"attempts": 1},
			"$unset": bson.M{"dispatched_at": "", "heartbeat_at": ""},
		},
	)
	if err != nil {
		return false, persistence("report failure", err)
	}
	return res.MatchedCount > 0, nil
}

// TouchHeartbeat stamps heartbeat_at for a task still running step.
func (m *MongoStore) TouchHeartbeat(ctx context.Context, id int64, step pipeline.StepIndex) (bool, error) {
	now := m.now().UTC()
	res, err := m.tasks.UpdateOne(ctx,
		bson.M{"task_id": id, "step": int(step), "step_in_progress": true},
		bson.M{"$set": bson.M{"heartbeat_at": now, "updated_at": now}},
	)
	if err != nil {
		return false, persistence("heartbeat", err)
	}
	return res.MatchedCount > 0, nil
}

func toDocument(task pipeline.Task) taskDocument {
	return taskDocument{
		TaskID:         task.ID,
		Location:       task.Location,
		Step:           int(task.Step),
		StepInProgress: task.StepInProgress,
		Requirements: reqsDoc{
			NeedsColorChecker: task.Requirements.NeedsColorChecker,
			NeedsRawImages:    task.Requirements.NeedsRawImages,
		},
		Attempts:     task.Attempts,
		LastError:    task.LastError,
		DispatchedAt: utcPtr(task.DispatchedAt),
		HeartbeatAt:  utcPtr(task.HeartbeatAt),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}

func fromDocument(doc taskDocument) pipeline.Task {
	return pipeline.Task{
		ID:             doc.TaskID,
		Location:       doc.Location,
		Step:           pipeline.StepIndex(doc.Step),
		StepInProgress: doc.StepInProgress,
		Requirements: pipeline.Requirements{
			NeedsColorChecker: doc.Requirements.NeedsColorChecker,
			NeedsRawImages:    doc.Requirements.NeedsRawImages,
		},
		Attempts:     doc.Attempts,
		LastError:    doc.LastError,
		DispatchedAt: utcPtr(doc.DispatchedAt),
		HeartbeatAt:  utcPtr(doc.HeartbeatAt),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := ts.UTC()
	return &v
}
