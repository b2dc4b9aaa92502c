package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Content types.
const (
	ContentTypeText = "text/plain"
	ContentTypeJSON = "application/json"
)

const (
	msgInvalidRequest = "Not a valid request"
	msgPostOnly       = "Only accept POST method"
	msgInvalidRPC     = "Not a valid rpc. HTTP post body must be a json object with method key"
)

// Request is an inbound RPC request as handed over by a transport.
type Request struct {
	// Method is the transport (HTTP) method.
	Method string
	Body   []byte
}

// Response is the normalized response envelope.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ContentType returns the response's Content-Type header.
func (r Response) ContentType() string {
	return r.Headers["Content-Type"]
}

// parseEnvelope validates the transport method and decodes the body into
// an RPC envelope that has a string method key.
func parseEnvelope(r Request) (map[string]interface{}, string, error) {
	if r.Method == "" {
		return nil, "", newErr(KindValidation, msgInvalidRequest)
	}
	if r.Method != http.MethodPost {
		return nil, "", newErr(KindValidation, msgPostOnly)
	}

	var (
		rpc map[string]interface{}
		dec = json.NewDecoder(bytes.NewReader(r.Body))
	)
	dec.UseNumber()
	if err := dec.Decode(&rpc); err != nil || rpc == nil {
		return nil, "", newErr(KindValidation, msgInvalidRPC)
	}

	// Trailing data after the object.
	if _, err := dec.Token(); err != io.EOF {
		return nil, "", newErr(KindValidation, msgInvalidRPC)
	}

	method, ok := rpc[FieldMethod].(string)
	if !ok {
		return nil, "", newErr(KindValidation, msgInvalidRPC)
	}
	return rpc, method, nil
}

// okResponse returns a 200 response. Structured bodies are JSON encoded,
// nil bodies are sent as empty text.
func okResponse(body interface{}) (Response, error) {
	if body == nil {
		return Response{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": ContentTypeText},
		}, nil
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": ContentTypeJSON},
		Body:       string(b),
	}, nil
}

// errorResponse returns a 400 response carrying the error's public message.
func errorResponse(err error) Response {
	msg := msgTryAgain
	var e *Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	return Response{
		StatusCode: http.StatusBadRequest,
		Headers:    map[string]string{"Content-Type": ContentTypeText},
		Body:       msg,
	}
}
