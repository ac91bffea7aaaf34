package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/talentiq/internal/database"
	"github.com/hitoshi/talentiq/internal/model"
)

// userDocument はusersコレクションのドキュメント表現。
type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	ClerkID      string             `bson:"clerkId"`
	Email        string             `bson:"email"`
	Name         string             `bson:"name"`
	ProfileImage string             `bson:"profileImage"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func newUserDocument(u *model.User) *userDocument {
	return &userDocument{
		ClerkID:      u.ClerkID,
		Email:        u.Email,
		Name:         u.Name,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:           d.ID.Hex(),
		ClerkID:      d.ClerkID,
		Email:        d.Email,
		Name:         d.Name,
		ProfileImage: d.ProfileImage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	collection *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{collection: db.Collection(database.UsersCollection)}
}

// FindByClerkID はClerkのユーザーIDでユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"clerkId": clerkID})
}

// FindByID は指定IDのユーザーを取得する。IDがObjectID形式でない場合も含め、見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByIDs は指定IDのユーザーをまとめて取得する。
func (r *MongoUserRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	oids := objectIDs(ids)
	result := make(map[string]*model.User, len(oids))
	if len(oids) == 0 {
		return result, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find users by IDs: %w", err)
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	for i := range docs {
		u := docs[i].toModel()
		result[u.ID] = u
	}
	return result, nil
}

// Create はユーザーを作成する。clerkIdまたはemailが重複する場合はErrDuplicateを返す。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	res, err := r.collection.InsertOne(ctx, newUserDocument(user))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert user %s: %w", user.ClerkID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	user.ID = oid.Hex()
	return nil
}

// DeleteByClerkID はClerkのユーザーIDでユーザーを削除する。
func (r *MongoUserRepo) DeleteByClerkID(ctx context.Context, clerkID string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"clerkId": clerkID})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("user %s: %w", clerkID, ErrNotFound)
	}
	return nil
}

// Delete はuser.IDのユーザーを削除する。
func (r *MongoUserRepo) Delete(ctx context.Context, user *model.User) error {
	oid, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

// Ping はMongoDBへの疎通を確認する。
func (r *MongoUserRepo) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, nil)
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// objectIDs はObjectID形式のIDのみを重複なく変換する。
func objectIDs(ids []string) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		oids = append(oids, oid)
	}
	return oids
}

// compile-time interface check
var (
	_ UserRepository = (*MongoUserRepo)(nil)
	_ HealthChecker  = (*MongoUserRepo)(nil)
)
