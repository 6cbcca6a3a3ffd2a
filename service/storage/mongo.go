package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollection = "messages"

// MongoStore 消息落库实现。集合：messages
// temp_id 建稀疏索引：幂等查找是发送热路径。
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(messageCollection)}
}

// EnsureIndexes 启动时调用一次
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "temp_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	return errors.Wrap(err, "ensure message indexes")
}

func (s *MongoStore) FindByTokenOrID(ctx context.Context, token, id string) (*Message, error) {
	// token 优先：重试的常见形态是客户端还没拿到服务端ID
	if token != "" {
		m, err := s.findOne(ctx, bson.M{"temp_id": token})
		if err != nil || m != nil {
			return m, err
		}
	}
	if id != "" {
		return s.findOne(ctx, bson.M{"_id": id})
	}
	return nil, nil
}

func (s *MongoStore) Create(ctx context.Context, m *Message) (*Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return m, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, id string) (*Message, error) {
	res := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"read": true}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m Message
	if err := res.Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.Errorf("message %s not found", id)
		}
		return nil, errors.Wrap(err, "mark read")
	}
	return &m, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (*Message, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*Message, error) {
	var m Message
	err := s.coll.FindOne(ctx, filter).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	return &m, nil
}
