package chat

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotInRoom           = errors.New("not in room")
	ErrValidation          = errors.New("validation error")
	ErrPersistence         = errors.New("persistence error")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrDelivery            = errors.New("delivery error")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrBadRequest          = errors.New("bad request")
	ErrRateLimited         = errors.New("rate limited")
)

// Wire codes carried by the error event.
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeNotInRoom           = "NOT_IN_ROOM"
	CodeValidation          = "VALIDATION_ERROR"
	CodePersistence         = "PERSISTENCE_ERROR"
	CodeDuplicateConnection = "DUPLICATE_CONNECTION"
	CodeDelivery            = "DELIVERY_ERROR"
	CodeBadRequest          = "BAD_REQUEST"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNotInRoom, CodeNotInRoom},
	{ErrValidation, CodeValidation},
	{ErrPersistence, CodePersistence},
	{ErrDuplicateConnection, CodeDuplicateConnection},
	{ErrDelivery, CodeDelivery},
	{ErrBadRequest, CodeBadRequest},
	{ErrRateLimited, CodeRateLimited},
}

// ErrorCode classifies err into a wire code.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// publicMessage hides store and broker internals from clients.
func publicMessage(err error) string {
	switch ErrorCode(err) {
	case CodePersistence:
		return "message could not be stored, retry the send"
	case CodeDelivery:
		return "message was stored but could not be delivered"
	case CodeInternal:
		return "internal error"
	}
	return err.Error()
}
