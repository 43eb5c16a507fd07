package models

import (
	"context"
	"errors"
	"time"

	"github.com/stampnote/loyalty_backend/config"
	"github.com/stampnote/loyalty_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:36;index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:255;uniqueIndex;not null" json:"email" binding:"required"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	Role       UserRole  `gorm:"size:20;not null;default:'Cashier'" json:"role"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !utils.IsValidEmail(input.Email) {
		return nil, utils.ValidationError("invalid email")
	}
	if err := utils.ValidateUnique[User](ctx, "", "email", input.Email, ""); err != nil {
		return nil, err
	}

	role := UserRoleCashier
	switch input.Role {
	case "", string(UserRoleCashier):
	case string(UserRoleAdmin):
		role = UserRoleAdmin
	case string(UserRoleManager):
		role = UserRoleManager
	default:
		return nil, utils.ValidationError("invalid role")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := User{
		BusinessId: businessId,
		Name:       input.Name,
		Email:      input.Email,
		Password:   string(hashed),
		Role:       role,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

type LoginInput struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

const loginAttemptLimit = 5

// Login checks credentials and issues a session token. Attempts are counted
// per email in a fixed window; past the limit the account is locked out until
// the window expires, whether or not the password is right.
func Login(ctx context.Context, input *LoginInput) (*LoginResult, error) {
	attempts, err := config.IncrRedisCounterWithTTL(ctx, "LoginAttempt:"+input.Email, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	if attempts > loginAttemptLimit {
		return nil, utils.StateConflictError("too many login attempts, try again later")
	}

	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("email = ?", input.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ValidationError("invalid email or password")
		}
		return nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, utils.StateConflictError("account is disabled")
	}
	if err := utils.ComparePassword(user.Password, input.Password); err != nil {
		return nil, utils.ValidationError("invalid email or password")
	}

	token, err := utils.JwtGenerate(user.ID, user.BusinessId, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: &user}, nil
}
