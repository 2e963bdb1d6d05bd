package vendorapi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// decodeBody normalises a raw response body to clean UTF-8. The endpoint
// declares nothing reliable, so the body is decoded as EUC-KR first and as
// UTF-8 when that fails. Control characters other than tab, LF and CR are
// stripped before parsing; the feed is known to leak them.
func decodeBody(raw []byte) ([]byte, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), korean.EUCKR.NewDecoder()))
	if err != nil || !utf8.Valid(decoded) {
		if utf8.Valid(raw) {
			decoded = raw
		} else {
			return nil, fmt.Errorf("%w: body is neither euc-kr nor utf-8", ErrProtocol)
		}
	}
	return stripControl(decoded), nil
}

func stripControl(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for _, b := range in {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			continue
		}
		out = append(out, b)
	}
	return out
}

// parseEnvelope decodes one page. The XML prolog may still declare euc-kr
// after transcoding, so the charset reader is a pass-through.
func parseEnvelope[T any](body []byte) (*envelope[T], error) {
	clean, err := decodeBody(body)
	if err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(bytes.NewReader(clean))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var env envelope[T]
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if msg := strings.TrimSpace(env.ErrorMsg); msg != "" {
		if isAuthMessage(msg) {
			return nil, fmt.Errorf("%w: %s", ErrAuth, msg)
		}
		return nil, fmt.Errorf("%w: %s", ErrProtocol, msg)
	}

	return &env, nil
}

func isAuthMessage(msg string) bool {
	lowered := strings.ToLower(msg)
	for _, marker := range []string{"admin_code", "pwd", "password", "auth", "인증", "비밀번호"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
