package repos

import (
	"errors"

	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// UserRepo covers the two user touchpoints: registration writes a row,
// login reads one. Tokens are stateless, so nothing re-loads the user per
// request.
type UserRepo interface {
	Create(dbc dbctx.Context, user *types.User) (*types.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*types.User, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{
		db:  db,
		log: baseLog.With("repo", "UserRepo"),
	}
}

func (r *userRepo) Create(dbc dbctx.Context, user *types.User) (*types.User, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}
	if err := dbc.DB(r.db).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*types.User, error) {
	if email == "" {
		return nil, nil
	}
	var user types.User
	err := dbc.DB(r.db).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
