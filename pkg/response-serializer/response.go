package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// StoredResponse is a response as it was captured from the network.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was written to the store.
	StoredAt time.Time
}

// StoredResponseToBytes converts a stored response to its HTTP/1.1 representation.
// The response body is read completely; afterwards the response body is set back
// so the response can still be sent to the client.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	body, err := ReadBody(res)
	if err != nil {
		return nil, err
	}

	out := *res
	out.ProtoMajor, out.ProtoMinor = 1, 1
	out.Header = storableHeader(res.Header)
	out.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.TransferEncoding = nil
	out.Trailer = nil
	out.Close = false
	out.Request = nil

	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, fmt.Errorf("serialize response: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToStoredResponse converts bytes created by StoredResponseToBytes back to a response.
// The request is attached to the response and may be nil.
func BytesToStoredResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	// buffer the body so the returned response does not depend on b
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return sRes, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))

	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	res.Header.Del(storedAtHeaderName)
	sRes.Response = res
	return sRes, nil
}

// ReadBody reads the complete response body and sets it back on the response,
// so the body can be read again.
func ReadBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return []byte{}, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return body, nil
}

// storableHeader returns a copy of the header without the fields that only
// apply to a single connection (RFC 9111 section 3.1) or to a single client.
func storableHeader(header http.Header) http.Header {
	if header == nil {
		return make(http.Header)
	}
	h := header.Clone()
	// fields listed in Connection are connection-specific too
	for _, value := range header.Values("Connection") {
		for _, field := range strings.Split(value, ",") {
			if field = strings.TrimSpace(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, field := range []string{"Connection", "Proxy-Connection", "Keep-Alive", "TE", "Transfer-Encoding", "Upgrade", "Set-Cookie"} {
		h.Del(field)
	}
	return h
}
