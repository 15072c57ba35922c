package route

import (
	"net/http"

	"github.com/adapt-security/adapt-authoring-api/access"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/evergreen-ci/gimlet"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// errorBody is the structured error payload every failed request gets.
type errorBody struct {
	Status  int                 `json:"status"`
	Message string              `json:"message"`
	Errors  []schema.FieldError `json:"errors,omitempty"`
}

// respond writes the success response, stringifying store-native values so
// ids and timestamps serialize uniformly.
func respond(w http.ResponseWriter, status int, data any) {
	if status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	gimlet.WriteJSONResponse(w, status, schema.StringifyValues(data))
}

// writeError translates the error taxonomy into HTTP responses. Server-side
// failures are logged with request context; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Status: http.StatusInternalServerError, Message: "internal error"}

	gimletErr := gimlet.ErrorResponse{}
	verr := &schema.ValidationError{}
	methodErr := &MethodNotSupportedError{}
	switch {
	case errors.As(err, &gimletErr):
		body.Status = gimletErr.StatusCode
		body.Message = gimletErr.Message
	case errors.As(err, &verr):
		body.Status = http.StatusBadRequest
		body.Message = "request data failed validation"
		body.Errors = verr.Errors
	case db.IsNotFound(err):
		body.Status = http.StatusNotFound
		body.Message = "no matching document found"
	case access.IsUnauthorized(err):
		body.Status = http.StatusForbidden
		body.Message = "access denied"
	case errors.As(err, &methodErr):
		body.Status = http.StatusMethodNotAllowed
		body.Message = methodErr.Error()
	}

	if body.Status >= http.StatusInternalServerError {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "request failed",
			"method":  r.Method,
			"path":    r.URL.Path,
		}))
	}
	gimlet.WriteJSONResponse(w, body.Status, body)
}
