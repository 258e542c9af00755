package core

import "errors"

var (
	// ErrInvalidUsername rejects blank or whitespace-only usernames.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrUsernameTaken rejects a username already present in the directory.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrRoomExists rejects creating a room whose name is already registered.
	ErrRoomExists = errors.New("room already exists")
)
