package api

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bbernhard/repairiq/src/commons"
	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/bbernhard/repairiq/src/predict"
	"github.com/bbernhard/repairiq/src/relay"
	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClassifier struct {
	ready bool
	res   datastructures.PredictionResult
	err   error
	calls atomic.Int32
}

func (c *fakeClassifier) Classify(_ context.Context, _ []byte) (datastructures.PredictionResult, error) {
	c.calls.Add(1)
	return c.res, c.err
}

func (c *fakeClassifier) Ready() bool {
	return c.ready
}

type staticBackend struct {
	probabilities []float32
}

func (b staticBackend) Infer(_ *predict.Tensor) (*predict.Tensor, error) {
	out := predict.NewTensor(int64(len(b.probabilities)))
	copy(out.Data, b.probabilities)
	return out, nil
}

func (b staticBackend) OutputSize() int { return len(b.probabilities) }

func (b staticBackend) Close() error { return nil }

func testConfig(environment string) commons.Config {
	return commons.Config{
		Environment:     environment,
		CorsOrigin:      "*",
		PairingTokenTtl: time.Minute,
	}
}

func newTestServer(t *testing.T, config commons.Config, classifier Classifier) *httptest.Server {
	tokens := relay.NewMemoryTokenStore()
	r := relay.New(tokens, relay.Options{})
	s := NewServer(config, classifier, r, relay.NewPairing(tokens, config.PairingTokenTtl))

	srv := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return srv
}

func testPng(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 140, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testPostPredict(t *testing.T, baseUrl string, image []byte) (*resty.Response, datastructures.PredictionResult, datastructures.ErrorResult) {
	var res datastructures.PredictionResult
	var errRes datastructures.ErrorResult

	client := resty.New()
	resp, err := client.R().
		SetFileReader("image", "predict.png", bytes.NewReader(image)).
		SetResult(&res).
		SetError(&errRes).
		Post(baseUrl + "/predict")
	require.NoError(t, err)
	return resp, res, errRes
}

func TestPredict_ReturnsComponent(t *testing.T) {
	classifier := &fakeClassifier{ready: true, res: datastructures.PredictionResult{Component: "RAM", Confidence: 0.91}}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, res, _ := testPostPredict(t, srv.URL, testPng(t))

	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, "RAM", res.Component)
	require.InDelta(t, 0.91, res.Confidence, 1e-6)
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestPredict_MissingFile(t *testing.T) {
	// the model isn't ready either, the missing upload is reported first
	classifier := &fakeClassifier{ready: false}
	srv := newTestServer(t, testConfig("production"), classifier)

	var errRes datastructures.ErrorResult
	resp, err := resty.New().R().
		SetFormData(map[string]string{"other": "value"}).
		SetError(&errRes).
		Post(srv.URL + "/predict")

	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode())
	require.Equal(t, "No image file uploaded", errRes.Error)
	require.Zero(t, classifier.calls.Load())
}

func TestPredict_ModelNotLoaded(t *testing.T) {
	classifier := &fakeClassifier{ready: false}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, testPng(t))

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	require.Equal(t, "Model not loaded yet", errRes.Error)
	require.Equal(t, "Please try again later or contact support", errRes.Fallback)
	require.Zero(t, classifier.calls.Load())
}

func TestPredict_QueueFull(t *testing.T) {
	classifier := &fakeClassifier{ready: true, err: predict.ErrQueueFull}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, testPng(t))

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	require.Equal(t, "Server busy", errRes.Error)
	require.Equal(t, int32(1), classifier.calls.Load())
}

func TestPredict_InvalidImage(t *testing.T) {
	classifier := &fakeClassifier{ready: true, err: predict.ErrInvalidInput}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, []byte("definitely not an image"))

	require.Equal(t, http.StatusBadRequest, resp.StatusCode())
	require.Equal(t, "Invalid image format", errRes.Error)
	require.Equal(t, "The uploaded file is not a valid image or is unsupported.", errRes.Details)
}

func TestPredict_InternalErrorIsSanitizedInProduction(t *testing.T) {
	classifier := &fakeClassifier{ready: true, err: &predict.InternalError{
		Op:    "inference",
		Err:   errors.New("session exploded at /opt/models/graph.pb"),
		Stack: "goroutine 1 [running]",
	}}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, testPng(t))

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	require.Equal(t, "Internal server error", errRes.Error)
	require.NotContains(t, errRes.Details, "/opt/models")
	require.Empty(t, errRes.Stack)
}

func TestPredict_InternalErrorHasStackInDevelopment(t *testing.T) {
	classifier := &fakeClassifier{ready: true, err: &predict.InternalError{
		Op:    "inference",
		Err:   errors.New("session exploded"),
		Stack: "goroutine 1 [running]",
	}}
	srv := newTestServer(t, testConfig(commons.DevelopmentEnvironment), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, testPng(t))

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	require.Contains(t, errRes.Details, "session exploded")
	require.Equal(t, "goroutine 1 [running]", errRes.Stack)
}

func TestPredict_WithService(t *testing.T) {
	req := require.New(t)

	// Given a service whose model always answers with index 2
	service := predict.NewService(t.TempDir(), 2, 10, predict.LoadOptions{})
	t.Cleanup(service.Close)
	probabilities := make([]float32, len(predict.HardwareClasses))
	probabilities[2] = 0.756
	service.Install(predict.NewModel(staticBackend{probabilities: probabilities}, predict.FallbackVocabulary(), datastructures.ModelMetadata{}))
	srv := newTestServer(t, testConfig("production"), service)

	// When a png is uploaded
	resp, res, _ := testPostPredict(t, srv.URL, testPng(t))

	// Then the label comes from the vocabulary and the confidence is rounded
	req.Equal(http.StatusOK, resp.StatusCode())
	req.Equal(predict.HardwareClasses[2], res.Component)
	req.InDelta(0.76, res.Confidence, 1e-6)

	// And a text file is rejected as invalid input
	resp, _, errRes := testPostPredict(t, srv.URL, []byte("hello"))
	req.Equal(http.StatusBadRequest, resp.StatusCode())
	req.Equal("Invalid image format", errRes.Error)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{ready: true})

	var res datastructures.HealthResult
	resp, err := resty.New().R().SetResult(&res).Get(srv.URL + "/health")

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, "ok", res.Status)
	require.True(t, res.ModelLoaded)
	require.Equal(t, "production", res.Environment)
	require.GreaterOrEqual(t, res.Uptime, 0.0)
	_, err = time.Parse(time.RFC3339, res.Timestamp)
	require.NoError(t, err)
}

func TestHealth_ModelNotLoaded(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{ready: false})

	var res datastructures.HealthResult
	resp, err := resty.New().R().SetResult(&res).Get(srv.URL + "/health")

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.False(t, res.ModelLoaded)
}

func TestPhoneCamera(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{})

	var res datastructures.PhoneCameraResult
	resp, err := resty.New().R().SetResult(&res).Get(srv.URL + "/phone-camera")

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.True(t, strings.HasPrefix(res.PhoneUrl, srv.URL+relay.PhonePagePath+"?token="), res.PhoneUrl)
	require.True(t, strings.HasPrefix(res.QrCode, "data:image/png;base64,"))
	require.Len(t, res.Instructions, len(relay.PairingInstructions))
}

func TestPhoneCamera_PublicUrl(t *testing.T) {
	config := testConfig("production")
	config.PublicUrl = "https://scanner.example.com"
	srv := newTestServer(t, config, &fakeClassifier{})

	var res datastructures.PhoneCameraResult
	_, err := resty.New().R().SetResult(&res).Get(srv.URL + "/phone-camera")

	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.PhoneUrl, "https://scanner.example.com/phone.html?token="), res.PhoneUrl)
}

func TestPhoneCamera_TokenOpensRelay(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{})

	var res datastructures.PhoneCameraResult
	_, err := resty.New().R().SetResult(&res).Get(srv.URL + "/phone-camera")
	require.NoError(t, err)

	token := res.PhoneUrl[strings.Index(res.PhoneUrl, "token=")+len("token="):]
	wsUrl := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token

	conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()

	// the token is single use
	_, resp, err = websocket.DefaultDialer.Dial(wsUrl, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPhonePage(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{})

	resp, err := resty.New().R().Get(srv.URL + relay.PhonePagePath + "?token=abc")

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Contains(t, resp.Header().Get("Content-Type"), "text/html")
	require.Contains(t, resp.String(), "/ws?token=")
	require.Contains(t, resp.String(), `type: "frame"`)
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, testConfig("production"), &fakeClassifier{})

	resp, err := resty.New().R().Options(srv.URL + "/predict")

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, "*", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestPredict_TooLarge(t *testing.T) {
	classifier := &fakeClassifier{ready: true}
	srv := newTestServer(t, testConfig("production"), classifier)

	resp, _, errRes := testPostPredict(t, srv.URL, bytes.Repeat([]byte{0xff}, maxUploadSize+1))

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode())
	require.Equal(t, "Image too large", errRes.Error)
	require.Zero(t, classifier.calls.Load())
}
