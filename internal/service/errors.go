package service

import "errors"

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAdminExists        = errors.New("an admin account already exists")
	ErrForbidden          = errors.New("not allowed")
	ErrRecordNotFound     = errors.New("no patient record found")
	ErrTrainingDataEmpty  = errors.New("no records to train on")
	ErrRetrainInProgress  = errors.New("a retrain is already running")
	ErrNoActiveRetrain    = errors.New("no retrain job")
	ErrRetrainCancelled   = errors.New("retrain was cancelled")
	ErrInvalidImport      = errors.New("invalid import file")
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == "admin"
}
