package data

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/duochat/duochat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrUserExists is returned when a signup collides with an existing email or
// username.
var ErrUserExists = errors.New("user already exists")

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// generateUserCode produces an 8-char uppercase hex code from 4 random bytes.
func generateUserCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// CreateUser inserts a new user document with hashed password. The short user
// code is generated here, retrying on the rare collision with an existing one.
func (u *UsersStore) CreateUser(ctx context.Context, username, email, hashedPassword string) (*User, error) {
	const maxAttempts = 10

	now := time.Now()
	user := &User{
		Username:     strings.TrimSpace(username),
		Email:        normalize.Email(email),
		PasswordHash: hashedPassword,
		LastActive:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateUserCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate user code: %w", err)
		}
		user.UserCode = code

		result, err := u.coll.InsertOne(ctx, user)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				// A code collision can be retried; a duplicate email or
				// username cannot.
				if taken, cerr := u.codeTaken(ctx, code); cerr == nil && taken {
					continue
				}
				return nil, ErrUserExists
			}
			return nil, err
		}

		user.ID = result.InsertedID.(bson.ObjectID)
		return user, nil
	}

	return nil, errors.New("failed to allocate a unique user code")
}

func (u *UsersStore) codeTaken(ctx context.Context, code string) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"user_code": code})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail finds a user by normalized email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByCode finds a user by their short code.
func (u *UsersStore) GetUserByCode(ctx context.Context, code string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"user_code": normalize.UserCode(code)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SearchByCodePrefix returns users whose short code starts with the term.
func (u *UsersStore) SearchByCodePrefix(ctx context.Context, term string, limit int64) ([]*User, error) {
	term = normalize.UserCode(term)
	if term == "" {
		return nil, nil
	}

	filter := bson.M{"user_code": bson.M{"$regex": "^" + regexp.QuoteMeta(term)}}
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"user_code": 1})

	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetOnline flips the durable online flag. Going online also refreshes
// last_active, matching the "last seen when they arrived" semantics the
// client displays.
func (u *UsersStore) SetOnline(ctx context.Context, id bson.ObjectID, online bool) error {
	update := bson.M{"is_online": online, "updated_at": time.Now()}
	if online {
		update["last_active"] = time.Now()
	}
	_, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
	return err
}

// UpdateUsername renames the user and returns the fresh document. A name
// already held by another account maps to ErrUserExists.
func (u *UsersStore) UpdateUsername(ctx context.Context, id bson.ObjectID, username string) (*User, error) {
	result, err := u.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"username":   strings.TrimSpace(username),
		"updated_at": time.Now(),
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return u.GetUserByID(ctx, id)
}

// UpdateLastActive bumps the user's last-active timestamp.
func (u *UsersStore) UpdateLastActive(ctx context.Context, id bson.ObjectID) error {
	_, err := u.coll.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_active": time.Now()}})
	return err
}
