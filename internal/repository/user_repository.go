package repository

import "context"

// CreateUser inserts a new user and fills in its ID.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	return r.executeWithRetry(ctx, "repository.create_user", "", func() error {
		return r.db.WithContext(ctx).Create(u).Error
	})
}

// FindUserByEmail looks a user up by email address.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.executeWithRetry(ctx, "repository.find_user_by_email", "", func() error {
		return r.db.WithContext(ctx).First(&u, "email = ?", email).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByID looks a user up by identifier.
func (r *Repository) FindUserByID(ctx context.Context, id uint) (*User, error) {
	var u User
	err := r.executeWithRetry(ctx, "repository.find_user_by_id", "", func() error {
		return r.db.WithContext(ctx).First(&u, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
