package scan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bbernhard/repairiq/src/datastructures"
	"github.com/bbernhard/repairiq/src/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDisplayName(t *testing.T) {
	require.Equal(t, "USB Port", DisplayName("usb_port"))
	require.Equal(t, "RAM Module", DisplayName("ram_module"))
	require.Equal(t, "Power Supply Unit", DisplayName("power_supply_unit"))
	require.Equal(t, "SSD", DisplayName("ssd"))
	require.Equal(t, "Unknown", DisplayName("Unknown"))
}

func TestFallbackExplanation(t *testing.T) {
	known := FallbackExplanation("heat_sink")
	require.Contains(t, known, "<h3>Heat Sink</h3>")
	require.Contains(t, known, "dissipates heat")

	unknown := FallbackExplanation("Unknown")
	require.Contains(t, unknown, "No detailed information available")
}

func TestPlainText(t *testing.T) {
	require.Equal(t, "Fan\nMoves air &", PlainText("<h3>Fan</h3>\n<p>Moves air &amp;</p>"))
}

func TestResolver_WithoutExplainer(t *testing.T) {
	r := NewResolver(nil, time.Second)

	e := r.Resolve(context.Background(), "monitor")

	require.Equal(t, datastructures.ExplanationFallback, e.Source)
	require.Contains(t, e.Text, "Display screen for visual output")
}

func TestResolver_EmptyAnswerFallsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	explainer := mocks.NewMockExplainer(ctrl)
	explainer.EXPECT().Explain(gomock.Any(), "Mouse").Return("   ", nil)

	e := NewResolver(explainer, time.Second).Resolve(context.Background(), "mouse")

	require.Equal(t, datastructures.ExplanationFallback, e.Source)
}

func TestResolver_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	explainer := mocks.NewMockExplainer(ctrl)
	explainer.EXPECT().Explain(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	e := NewResolver(explainer, 50*time.Millisecond).Resolve(context.Background(), "battery")

	require.Equal(t, datastructures.ExplanationFallback, e.Source)
	require.Less(t, time.Since(start), time.Second)
}

func TestGenerativeExplainer(t *testing.T) {
	req := require.New(t)

	var got chatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		req.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<h3>What is it?</h3>"}}]}`))
	}))
	defer srv.Close()

	g := NewGenerativeExplainer(srv.URL+"/v1/", "secret", "test-model", time.Second)
	text, err := g.Explain(context.Background(), "Graphics Card")

	req.NoError(err)
	req.Equal("<h3>What is it?</h3>", text)
	req.Equal("Bearer secret", auth)
	req.Equal("test-model", got.Model)
	req.Len(got.Messages, 1)
	req.Contains(got.Messages[0].Content, `"Graphics Card"`)
	req.Contains(got.Messages[0].Content, "Safety Tips")
}

func TestGenerativeExplainer_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewGenerativeExplainer(srv.URL, "", "m", time.Second).Explain(context.Background(), "SSD")

	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
}

func TestGenerativeExplainer_NoProvider(t *testing.T) {
	_, err := NewGenerativeExplainer("", "key", "m", time.Second).Explain(context.Background(), "SSD")

	require.True(t, errors.Is(err, ErrNoProvider))
}
