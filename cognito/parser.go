package cognito

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DecodedHeader holds the header fields the gateway reads
type DecodedHeader struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
}

// ParsedToken is a compact token split into its segments. Nothing in it is
// trusted until the signature over SigningInput has been verified.
type ParsedToken struct {
	Header DecodedHeader

	HeaderSegment    string
	PayloadSegment   string
	SignatureSegment string

	Payload   []byte
	Signature []byte
}

// SigningInput returns the exact bytes covered by the signature
func (t *ParsedToken) SigningInput() string {
	return t.HeaderSegment + "." + t.PayloadSegment
}

// Strict decoding rejects segments whose unused trailing bits are set, so
// every accepted segment has exactly one encoding.
var segmentParser = jwt.NewParser(jwt.WithStrictDecoding())

// ParseToken splits raw into header, payload and signature. The payload is
// only checked to be a JSON object; its claims are not interpreted.
func ParseToken(raw string) (*ParsedToken, error) {
	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, malformed("token must have 3 segments, got %d", len(segments))
	}
	for i, segment := range segments {
		if segment == "" {
			return nil, malformed("token segment %d is empty", i)
		}
	}

	headerBytes, err := segmentParser.DecodeSegment(segments[0])
	if err != nil {
		return nil, malformedErr("header is not base64url", err)
	}
	if err := requireObject(headerBytes); err != nil {
		return nil, malformedErr("header is not a JSON object", err)
	}
	var header DecodedHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, malformedErr("header fields have unexpected types", err)
	}
	if header.KeyID == "" {
		return nil, malformed("header has no kid")
	}

	payload, err := segmentParser.DecodeSegment(segments[1])
	if err != nil {
		return nil, malformedErr("payload is not base64url", err)
	}
	if err := requireObject(payload); err != nil {
		return nil, malformedErr("payload is not a JSON object", err)
	}

	signature, err := segmentParser.DecodeSegment(segments[2])
	if err != nil {
		return nil, malformedErr("signature is not base64url", err)
	}

	return &ParsedToken{
		Header:           header,
		HeaderSegment:    segments[0],
		PayloadSegment:   segments[1],
		SignatureSegment: segments[2],
		Payload:          payload,
		Signature:        signature,
	}, nil
}

func requireObject(data []byte) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return err
	}
	if object == nil {
		return fmt.Errorf("got null")
	}
	return nil
}

func malformed(format string, args ...interface{}) *AuthError {
	return newAuthError(KindMalformedToken, fmt.Sprintf(format, args...), nil)
}

func malformedErr(message string, err error) *AuthError {
	return newAuthError(KindMalformedToken, message, err)
}
