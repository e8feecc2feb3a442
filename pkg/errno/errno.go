package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy of e carrying a more specific message.
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
	ErrQueue            = Errno{Code: 10005, Message: "Message queue error"}
)

// Indexer Errors (20000+)
var (
	ErrInvalidAccountID  = Errno{Code: 20101, Message: "Invalid account id"}
	ErrAccountNotFound   = Errno{Code: 20102, Message: "Account not found"}
	ErrInvalidRecoveryID = Errno{Code: 20103, Message: "Invalid recovery id"}
	ErrObjectNotFound    = Errno{Code: 20104, Message: "Object not found"}
	ErrInvalidMessage    = Errno{Code: 20201, Message: "Invalid message payload"}
	ErrUnsupportedSubmit = Errno{Code: 20202, Message: "Message type cannot be submitted over HTTP"}
)
