package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/veloura/api/internal/domain"
	pfirestore "github.com/veloura/api/internal/platform/firestore"
)

const usersCollection = "users"

type userDocument struct {
	Email       string `firestore:"email"`
	DisplayName string `firestore:"displayName"`
}

// UserRepository implements repositories.UserRepository backed by Firestore.
type UserRepository struct {
	users *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	users := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil, nil)
	return &UserRepository{users: users}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.users == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user find: id is required")
	}

	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("users.find: %w", err)
	}
	return domain.User{
		ID:          doc.ID,
		Email:       strings.TrimSpace(doc.Data.Email),
		DisplayName: strings.TrimSpace(doc.Data.DisplayName),
	}, nil
}
