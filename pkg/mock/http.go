package mock

import (
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
)

type HTTPClient struct {
	Requests []*http.Request
	RespCode int
	RespBody io.ReadCloser
	Err      error
}

func (x *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	x.Requests = append(x.Requests, req)

	if x.Err != nil {
		return nil, x.Err
	}

	body := x.RespBody
	if body == nil {
		body = ioutil.NopCloser(bytes.NewReader(nil))
	}
	return &http.Response{
		StatusCode: x.RespCode,
		Body:       body,
	}, nil
}
