package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/talentiq/internal/database"
	"github.com/hitoshi/talentiq/internal/model"
)

// sessionDocument はsessionsコレクションのドキュメント表現。
// host・participantはusersコレクションの_idを参照する。
type sessionDocument struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	Problem     string              `bson:"problem"`
	Difficulty  string              `bson:"difficulty"`
	Host        primitive.ObjectID  `bson:"host"`
	Participant *primitive.ObjectID `bson:"participant"`
	Status      string              `bson:"status"`
	CallID      string              `bson:"callId"`
	CreatedAt   time.Time           `bson:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt"`
}

func newSessionDocument(s *model.Session) (*sessionDocument, error) {
	host, err := primitive.ObjectIDFromHex(s.HostID)
	if err != nil {
		return nil, fmt.Errorf("invalid host id %q: %w", s.HostID, err)
	}
	participant, err := optionalObjectID(s.ParticipantID)
	if err != nil {
		return nil, err
	}
	return &sessionDocument{
		Problem:     s.Problem,
		Difficulty:  string(s.Difficulty),
		Host:        host,
		Participant: participant,
		Status:      string(s.Status),
		CallID:      s.CallID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}, nil
}

func (d *sessionDocument) toModel() *model.Session {
	s := &model.Session{
		ID:         d.ID.Hex(),
		Problem:    d.Problem,
		Difficulty: model.Difficulty(d.Difficulty),
		HostID:     d.Host.Hex(),
		Status:     model.SessionStatus(d.Status),
		CallID:     d.CallID,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.Participant != nil {
		s.ParticipantID = d.Participant.Hex()
	}
	return s
}

// MongoSessionRepo はMongoDBを使用した面接セッションリポジトリ。
type MongoSessionRepo struct {
	collection *mongo.Collection
}

// NewMongoSessionRepo はMongoSessionRepoを生成する。
func NewMongoSessionRepo(db *mongo.Database) *MongoSessionRepo {
	return &MongoSessionRepo{collection: db.Collection(database.SessionsCollection)}
}

// Create はセッションを作成する。
func (r *MongoSessionRepo) Create(ctx context.Context, session *model.Session) error {
	doc, err := newSessionDocument(session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	res, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	session.ID = oid.Hex()
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *MongoSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc sessionDocument
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return doc.toModel(), nil
}

// ListActive はactive状態のセッションを新しい順に取得する。
func (r *MongoSessionRepo) ListActive(ctx context.Context, limit int) ([]*model.Session, error) {
	return r.find(ctx, bson.M{"status": string(model.SessionStatusActive)}, limit)
}

// ListRecentCompletedByUser は指定ユーザーが関わった終了済みセッションを新しい順に取得する。
func (r *MongoSessionRepo) ListRecentCompletedByUser(ctx context.Context, userID string, limit int) ([]*model.Session, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return []*model.Session{}, nil
	}
	return r.find(ctx, bson.M{
		"status": string(model.SessionStatusCompleted),
		"$or": bson.A{
			bson.M{"host": oid},
			bson.M{"participant": oid},
		},
	}, limit)
}

// AssignParticipant は参加者未定のactiveなセッションにのみ参加者を設定する。
func (r *MongoSessionRepo) AssignParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	sid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, nil
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, fmt.Errorf("invalid participant id %q: %w", userID, err)
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": sid, "status": string(model.SessionStatusActive), "participant": nil},
		bson.M{"$set": bson.M{"participant": uid, "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to assign participant: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// ReleaseParticipant はactiveなセッションの参加者がuserIDのままの場合に限り参加者を外す。
func (r *MongoSessionRepo) ReleaseParticipant(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	sid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, nil
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": sid, "status": string(model.SessionStatusActive), "participant": uid},
		bson.M{"$set": bson.M{"participant": nil, "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to release participant: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// Complete はactiveなセッションの状態だけをcompletedにする。参加者は変更しない。
func (r *MongoSessionRepo) Complete(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	sid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return false, nil
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": sid, "status": string(model.SessionStatusActive)},
		bson.M{"$set": bson.M{"status": string(model.SessionStatusCompleted), "updatedAt": at}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// CompleteStaleBefore はbefore以前に作成されたactiveなセッションを終了済みにする。
func (r *MongoSessionRepo) CompleteStaleBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"status": string(model.SessionStatusActive), "createdAt": bson.M{"$lt": before}},
		bson.M{"$set": bson.M{"status": string(model.SessionStatusCompleted), "updatedAt": time.Now()}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete stale sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (r *MongoSessionRepo) find(ctx context.Context, filter bson.M, limit int) ([]*model.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	sessions := make([]*model.Session, 0, len(docs))
	for i := range docs {
		sessions = append(sessions, docs[i].toModel())
	}
	return sessions, nil
}

// optionalObjectID は空文字をnilとして、それ以外をObjectIDに変換する。
func optionalObjectID(id string) (*primitive.ObjectID, error) {
	if id == "" {
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid object id %q: %w", id, err)
	}
	return &oid, nil
}

// compile-time interface check
var _ SessionRepository = (*MongoSessionRepo)(nil)
