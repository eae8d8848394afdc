package protocol

import "strings"

// Server identity, echoed on every response
const (
	PackageName    = "simple-http"
	PackageVersion = "0.1.0"
)

// HttpMethod represents HTTP request methods
type HttpMethod int

const (
	MethodUnknown HttpMethod = iota
	MethodGet
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodOptions
	MethodTrace
	MethodPatch
)

var methodNames = [...]string{
	MethodUnknown: "UNKNOWN",
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodOptions: "OPTIONS",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

func (m HttpMethod) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return methodNames[MethodUnknown]
	}
	return methodNames[m]
}

// ParseMethod maps a request-line token to a method. Matching is
// case-sensitive.
func ParseMethod(token string) HttpMethod {
	for m := MethodGet; int(m) < len(methodNames); m++ {
		if methodNames[m] == token {
			return m
		}
	}
	return MethodUnknown
}

// HttpVersion represents the protocol label of a request or response
type HttpVersion int

const (
	VersionUnknown HttpVersion = iota
	Version10
	Version11
	Version20
)

var versionNames = [...]string{
	VersionUnknown: "HTTP/?",
	Version10:      "HTTP/1.0",
	Version11:      "HTTP/1.1",
	Version20:      "HTTP/2.0",
}

func (v HttpVersion) String() string {
	if v < 0 || int(v) >= len(versionNames) {
		return versionNames[VersionUnknown]
	}
	return versionNames[v]
}

// ParseVersion maps a request-line token to a version.
func ParseVersion(token string) HttpVersion {
	for v := Version10; int(v) < len(versionNames); v++ {
		if versionNames[v] == token {
			return v
		}
	}
	return VersionUnknown
}

// ResponseVersion is the version written on every response, regardless of
// what the client declared.
const ResponseVersion = Version11

// HttpHeader represents an HTTP header key-value pair
type HttpHeader struct {
	Key   string
	Value string
}

// HttpRequest represents a parsed HTTP request. MethodName and VersionName
// hold the raw request-line tokens; Target is kept verbatim.
type HttpRequest struct {
	Method      HttpMethod
	MethodName  string
	Target      string
	Version     HttpVersion
	VersionName string
	Headers     []HttpHeader
}

// Header returns the value of the first header matching name
// case-insensitively.
func (r *HttpRequest) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Key, name) {
			return h.Value, true
		}
	}
	return "", false
}

// ResponseStatus is the closed set of statuses the server can produce
type ResponseStatus int

const (
	StatusOK ResponseStatus = iota
	StatusPartialContent
	StatusBadRequest
	StatusNotFound
	StatusRangeNotSatisfiable
	StatusInternalServerError
)

// statusTable keeps code and status-line text side by side so they cannot
// drift apart.
var statusTable = [...]struct {
	code int
	line string
}{
	StatusOK:                  {200, "200 OK"},
	StatusPartialContent:      {206, "206 Partial Content"},
	StatusBadRequest:          {400, "400 Bad Request"},
	StatusNotFound:            {404, "404 Not Found"},
	StatusRangeNotSatisfiable: {416, "416 Range Not Satisfiable"},
	StatusInternalServerError: {500, "500 Internal Server Error"},
}

// Code returns the numeric status code
func (s ResponseStatus) Code() int {
	return statusTable[s].code
}

// String returns the status-line text, e.g. "404 Not Found"
func (s ResponseStatus) String() string {
	return statusTable[s].line
}

// AcceptRanges is the value advertised in the Accept-Ranges header
type AcceptRanges int

const (
	AcceptRangesNone AcceptRanges = iota
	AcceptRangesBytes
)

func (a AcceptRanges) String() string {
	if a == AcceptRangesBytes {
		return "bytes"
	}
	return "none"
}

// HttpResponse represents an HTTP response. Use NewResponse so that
// ContentLength always matches Body.
type HttpResponse struct {
	Version        HttpVersion
	Status         ResponseStatus
	ContentLength  int
	AcceptRanges   AcceptRanges
	ContentRange   string
	Body           []byte
	PackageName    string
	PackageVersion string
}

// NewResponse creates a response with the server's fixed version and
// identity fields.
func NewResponse(status ResponseStatus, ranges AcceptRanges, body []byte) *HttpResponse {
	return &HttpResponse{
		Version:        ResponseVersion,
		Status:         status,
		ContentLength:  len(body),
		AcceptRanges:   ranges,
		Body:           body,
		PackageName:    PackageName,
		PackageVersion: PackageVersion,
	}
}

// Fixed bodies for the non-file responses
const (
	NotFoundBody            = "<html><body><h1>NOT FOUND</h1></body></html>"
	BadRequestBody          = "<html><body><h1>BAD REQUEST</h1></body></html>"
	InternalServerErrorBody = "<html><body><h1>INTERNAL SERVER ERROR</h1></body></html>"
)

// NewNotFoundResponse returns the fixed 404 page
func NewNotFoundResponse() *HttpResponse {
	return NewResponse(StatusNotFound, AcceptRangesNone, []byte(NotFoundBody))
}

// NewBadRequestResponse returns the fixed 400 page
func NewBadRequestResponse() *HttpResponse {
	return NewResponse(StatusBadRequest, AcceptRangesNone, []byte(BadRequestBody))
}

// NewInternalServerErrorResponse returns the fixed 500 page
func NewInternalServerErrorResponse() *HttpResponse {
	return NewResponse(StatusInternalServerError, AcceptRangesNone, []byte(InternalServerErrorBody))
}
