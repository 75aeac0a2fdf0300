package service

import "github.com/Gopher0727/TimeChat/internal/pkg/errs"

var (
	ErrAlreadyMember = errs.New(errs.ErrConflict, "already_member", "user is already a member of this chat")
	ErrRoomFull      = errs.New(errs.ErrConflict, "room_full", "chat room is full")
	ErrEmailTaken    = errs.New(errs.ErrConflict, "email_taken", "email is already registered")

	ErrChatNotFound    = errs.New(errs.ErrNotFound, "chat_not_found", "chat not found")
	ErrCodeNotFound    = errs.New(errs.ErrNotFound, "code_not_found", "invite code not found")
	ErrUserNotFound    = errs.New(errs.ErrNotFound, "user_not_found", "user not found")
	ErrMessageNotFound = errs.New(errs.ErrNotFound, "message_not_found", "message not found")

	ErrNotAdmin         = errs.New(errs.ErrForbidden, "not_admin", "only the chat admin can do this")
	ErrNotMember        = errs.New(errs.ErrForbidden, "not_member", "you are not a member of this chat")
	ErrCannotDeactivate = errs.New(errs.ErrForbidden, "cannot_deactivate", "only the code creator or the chat admin can deactivate this code")

	ErrDirectChat = errs.New(errs.ErrValidation, "direct_chat", "operation is not allowed on a direct chat")

	ErrCodeInvalid = errs.New(errs.ErrExpired, "code_invalid", "invite code has expired or reached its usage limit")
	ErrChatExpired = errs.New(errs.ErrExpired, "chat_expired", "chat has expired")

	ErrInvalidCredentials = errs.New(errs.ErrUnauthorized, "invalid_credentials", "invalid email or password")

	ErrCodeSpaceExhausted = errs.New(errs.ErrCodeSpaceExhausted, "code_space_exhausted", "could not allocate a unique invite code")
)
