package docbridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	resourceNotFoundPattern = regexp.MustCompile(`(?i)DocType\s+(.+?)\s+not\s+found`)
	htmlTagPattern          = regexp.MustCompile(`<[^>]*>`)
)

// ServerMessage is one decoded entry of the server message list.
type ServerMessage struct {
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Indicator string `json:"indicator,omitempty"`
}

// ErrorEnvelope is the structured error body returned by the resource server.
// ServerMessages holds a JSON-encoded list of JSON-encoded ServerMessage objects.
type ErrorEnvelope struct {
	ExcType        string `json:"exc_type,omitempty"`
	Exception      string `json:"exception,omitempty"`
	Message        string `json:"message,omitempty"`
	ServerMessages string `json:"_server_messages,omitempty"`
}

// ParseErrorEnvelope decodes a raw error body. Entries of the message list that are
// not valid JSON objects are kept as plain messages.
func ParseErrorEnvelope(body []byte) (*ErrorEnvelope, []ServerMessage, error) {
	var envelope ErrorEnvelope

	err := json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	if envelope.ServerMessages == "" {
		return &envelope, nil, nil
	}

	var encoded []string

	err = json.Unmarshal([]byte(envelope.ServerMessages), &encoded)
	if err != nil {
		return &envelope, nil, fmt.Errorf("%w: server messages: %w", ErrMalformedEnvelope, err)
	}

	messages := make([]ServerMessage, 0, len(encoded))

	for _, raw := range encoded {
		var msg ServerMessage
		if json.Unmarshal([]byte(raw), &msg) != nil || msg.Message == "" {
			msg = ServerMessage{Message: raw}
		}

		messages = append(messages, msg)
	}

	return &envelope, messages, nil
}

// MissingResourceName extracts X from a "DocType X not found" message.
func MissingResourceName(message string) (string, bool) {
	plain := htmlTagPattern.ReplaceAllString(message, "")

	match := resourceNotFoundPattern.FindStringSubmatch(plain)
	if match == nil {
		return "", false
	}

	name := strings.Trim(strings.TrimSpace(match[1]), `"'`)

	return name, name != ""
}

// Classifier turns non-success responses into classified errors.
type Classifier struct {
	// Primary is the preferred resource name.
	Primary string
	// PrimaryPath is the collection path of Primary; a bare 404 there means the schema is missing.
	PrimaryPath string
	// Optional holds names whose absence is not an error.
	Optional map[string]bool
}

// NewClassifier builds a classifier for the primary resource and the optional names.
func NewClassifier(primary, primaryPath string, optional []string) *Classifier {
	set := make(map[string]bool, len(optional))
	for _, name := range optional {
		set[name] = true
	}

	return &Classifier{Primary: primary, PrimaryPath: primaryPath, Optional: set}
}

// Classify maps a status code and raw body to a failure. When the failure only
// reports that an optional resource is absent, it returns empty=true and no error.
func (c *Classifier) Classify(statusCode int, path string, body []byte) (bool, error) {
	envelope, messages, _ := ParseErrorEnvelope(body)

	for _, msg := range messages {
		name, ok := MissingResourceName(msg.Message)
		if !ok {
			continue
		}

		if c.Optional[name] {
			return true, nil
		}

		return false, &Error{
			Kind:       KindSchemaMissing,
			StatusCode: statusCode,
			Resource:   name,
			Path:       path,
			Message:    msg.Message,
		}
	}

	message := summarize(envelope, messages)

	switch {
	case statusCode == http.StatusUnauthorized:
		return false, &Error{Kind: KindAuthenticationFailed, StatusCode: statusCode, Path: path, Message: message}
	case statusCode == http.StatusForbidden:
		return false, &Error{Kind: KindPermissionDenied, StatusCode: statusCode, Path: path, Message: message}
	case statusCode == http.StatusNotFound && c.isPrimaryPath(path):
		return false, &Error{
			Kind:       KindSchemaMissing,
			StatusCode: statusCode,
			Resource:   c.Primary,
			Path:       path,
			Message:    message,
			Hint:       "enable fallback mode to write to an alternative resource",
		}
	case statusCode == http.StatusNotFound:
		return false, &Error{Kind: KindNotFound, StatusCode: statusCode, Path: path, Message: message}
	case statusCode == http.StatusInternalServerError:
		return false, &Error{Kind: KindServerFault, StatusCode: statusCode, Path: path, Message: message}
	default:
		return false, &Error{Kind: KindUnclassified, StatusCode: statusCode, Path: path, Message: message}
	}
}

func (c *Classifier) isPrimaryPath(path string) bool {
	if c.PrimaryPath == "" {
		return false
	}

	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	return strings.TrimSuffix(path, "/") == strings.TrimSuffix(c.PrimaryPath, "/")
}

func summarize(envelope *ErrorEnvelope, messages []ServerMessage) string {
	if len(messages) > 0 {
		return htmlTagPattern.ReplaceAllString(messages[0].Message, "")
	}

	if envelope == nil {
		return ""
	}

	if envelope.Message != "" {
		return envelope.Message
	}

	if envelope.Exception != "" {
		return envelope.Exception
	}

	return envelope.ExcType
}

// IsSecurityTokenRejection reports whether the body carries a CSRF rejection.
func IsSecurityTokenRejection(body []byte) bool {
	envelope, _, err := ParseErrorEnvelope(body)
	if err != nil {
		return false
	}

	return envelope.ExcType == "CSRFTokenError" || strings.Contains(envelope.Exception, "CSRFTokenError")
}
