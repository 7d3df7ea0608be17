package scan

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/go-resty/resty/v2"
)

const defaultPredictionError = "Backend prediction failed"

type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindInvalidInput
	KindUnavailable
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindInvalidInput:
		return "invalid input"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ClassifyError carries the server's own message so it can be shown as is.
type ClassifyError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *ClassifyError) Error() string {
	return e.Message
}

// Retryable reports whether sending the same image again may succeed.
func (e *ClassifyError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindUnavailable
}

// ClassificationClient talks to the /predict endpoint of the classification
// service.
type ClassificationClient struct {
	client *resty.Client
}

func NewClassificationClient(serviceUrl string, timeout time.Duration) *ClassificationClient {
	client := resty.New().
		SetBaseURL(serviceUrl).
		SetTimeout(timeout)
	return &ClassificationClient{client: client}
}

func (c *ClassificationClient) Classify(ctx context.Context, image []byte) (datastructures.PredictionResult, error) {
	var res datastructures.PredictionResult
	var errRes datastructures.ErrorResult

	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("image", "capture.jpg", bytes.NewReader(image)).
		SetResult(&res).
		SetError(&errRes).
		Post("/predict")
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &ClassifyError{Kind: KindNetwork, Message: err.Error()}
	}

	if resp.IsError() {
		return res, &ClassifyError{
			Kind:    kindForStatus(resp.StatusCode()),
			Status:  resp.StatusCode(),
			Message: errorMessage(errRes),
		}
	}
	if res.Component == "" {
		return res, &ClassifyError{Kind: KindInternal, Status: resp.StatusCode(), Message: defaultPredictionError}
	}
	return res, nil
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusServiceUnavailable:
		return KindUnavailable
	case status >= 400 && status < 500:
		return KindInvalidInput
	}
	return KindInternal
}

func errorMessage(errRes datastructures.ErrorResult) string {
	if errRes.Error != "" {
		return errRes.Error
	}
	if errRes.Details != "" {
		return errRes.Details
	}
	return defaultPredictionError
}
