package passes

import (
	"encoding/base64"
	"strings"
)

const separator = "."

var encoding = base64.RawURLEncoding

// Assemble joins the payload and its detached signature into the distributable token.
func Assemble(payload, signature []byte) string {
	return encoding.EncodeToString(payload) + separator + encoding.EncodeToString(signature)
}

// Split reverses Assemble. Any token without exactly one separator, with an empty
// segment, or with a segment that is not unpadded base64url is ErrMalformedToken.
func Split(token string) (payload, signature []byte, err error) {
	token = strings.TrimSpace(token)
	if strings.Count(token, separator) != 1 {
		return nil, nil, ErrMalformedToken
	}

	encodedPayload, encodedSignature, _ := strings.Cut(token, separator)
	if encodedPayload == "" || encodedSignature == "" {
		return nil, nil, ErrMalformedToken
	}

	payload, err = encoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, nil, ErrMalformedToken
	}
	signature, err = encoding.DecodeString(encodedSignature)
	if err != nil {
		return nil, nil, ErrMalformedToken
	}
	return payload, signature, nil
}
