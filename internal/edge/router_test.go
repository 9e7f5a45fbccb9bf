package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galerly/transform/internal/config"
	"github.com/galerly/transform/internal/engine"
	"github.com/galerly/transform/internal/storage/memory"
	"github.com/galerly/transform/pkg/errors"
	"github.com/galerly/transform/pkg/types"
)

// fakeInvoker stands in for the transform function. A handler, when set,
// produces the wire response from the decoded request, which lets tests run
// a real engine behind the invocation boundary.
type fakeInvoker struct {
	mu         sync.Mutex
	syncCalls  int
	asyncCalls int

	invokeErr error
	asyncErr  error
	raw       []byte
	handler   func(ctx context.Context, req types.TransformRequest) types.InvocationResponse
}

func (f *fakeInvoker) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.syncCalls++
	f.mu.Unlock()

	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if f.raw != nil {
		return f.raw, nil
	}
	return f.respond(ctx, payload)
}

func (f *fakeInvoker) InvokeAsync(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.asyncCalls++
	f.mu.Unlock()

	if f.asyncErr != nil {
		return f.asyncErr
	}
	if f.handler != nil {
		_, _ = f.respond(ctx, payload)
	}
	return nil
}

func (f *fakeInvoker) respond(ctx context.Context, payload []byte) ([]byte, error) {
	var req types.TransformRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	resp := types.InvocationResponse{ContentType: "image/jpeg", Body: []byte("jpegbytes"), Cached: true}
	if f.handler != nil {
		resp = f.handler(ctx, req)
	}
	return json.Marshal(resp)
}

func (f *fakeInvoker) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls, f.asyncCalls
}

func edgeConfig(mode string) config.EdgeConfig {
	return config.EdgeConfig{
		FunctionName:   "galerly-transform",
		InvocationMode: mode,
		SyncTimeout:    time.Second,
		MaxInlineBytes: 1 << 20,
	}
}

func TestRoutePassthroughWithoutParams(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "")

	assert.Equal(t, ActionPassthrough, result.Action)

	// The pass-through path touches neither storage nor the invoker.
	assert.Equal(t, int64(0), renditions.ExistsCalls.Load())
	syncCalls, asyncCalls := invoker.calls()
	assert.Zero(t, syncCalls)
	assert.Zero(t, asyncCalls)
}

func TestRoutePassthroughUnrecognizedParams(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "utm_source=newsletter")

	assert.Equal(t, ActionPassthrough, result.Action)
	assert.Equal(t, int64(0), renditions.ExistsCalls.Load())
}

func TestRouteRejectsInvalidParams(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=-5")

	require.Equal(t, ActionRespond, result.Action)
	assert.Equal(t, 400, result.Status)
	assert.Equal(t, "application/json", result.ContentType)
	assert.Contains(t, string(result.Body), "ValidationError")

	// Rejection happens before any side effect.
	assert.Equal(t, int64(0), renditions.ExistsCalls.Load())
	syncCalls, asyncCalls := invoker.calls()
	assert.Zero(t, syncCalls)
	assert.Zero(t, asyncCalls)
}

func TestRouteCacheHitRewrites(t *testing.T) {
	renditions := memory.New()
	renditions.Seed("album/photo.jpg/800x600-inside-q85.jpeg", []byte("cached"), "image/jpeg")
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800&height=600")

	require.Equal(t, ActionRewrite, result.Action)
	assert.Equal(t, "album/photo.jpg/800x600-inside-q85.jpeg", result.RewriteKey)

	// Hits never invoke the transform.
	syncCalls, asyncCalls := invoker.calls()
	assert.Zero(t, syncCalls)
	assert.Zero(t, asyncCalls)
}

func TestRouteAsyncMissServesOriginal(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
	syncCalls, asyncCalls := invoker.calls()
	assert.Zero(t, syncCalls)
	assert.Equal(t, 1, asyncCalls)
}

func TestRouteAsyncDispatchFailureDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		asyncErr: errors.NewError(errors.ErrCodeInvocationFailed, "throttled"),
	}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteSyncMissServesTransformedBytes(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	require.Equal(t, ActionRespond, result.Action)
	assert.Equal(t, 200, result.Status)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, []byte("jpegbytes"), result.Body)
}

func TestRouteSyncLargeBodyRewrites(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			return types.InvocationResponse{ContentType: "image/jpeg", Body: make([]byte, 64), Cached: true}
		},
	}
	cfg := edgeConfig(config.ModeSync)
	cfg.MaxInlineBytes = 16
	router := New(renditions, invoker, cfg, nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	require.Equal(t, ActionRewrite, result.Action)
	assert.Equal(t, "album/photo.jpg/800x0-inside-q85.jpeg", result.RewriteKey)
}

// An oversized result whose rendition write failed has nowhere to rewrite
// to; the original serves instead of a guaranteed 404.
func TestRouteSyncLargeBodyUncachedDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			return types.InvocationResponse{ContentType: "image/jpeg", Body: make([]byte, 64)}
		},
	}
	cfg := edgeConfig(config.ModeSync)
	cfg.MaxInlineBytes = 16
	router := New(renditions, invoker, cfg, nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteSyncInvokeFailureDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		invokeErr: errors.NewError(errors.ErrCodeOperationTimeout, "transform timed out"),
	}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	// Engine failure is never surfaced as a 5xx; the viewer gets the
	// original.
	assert.Equal(t, ActionPassthrough, result.Action)
}

// A runtime kill at the Lambda limit produces a well-formed JSON payload
// that is not the wire shape; it must read as a failure, not as an empty
// 200.
func TestRouteSyncRuntimeErrorPayloadDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		raw: []byte(`{"errorMessage":"task timed out after 25.03 seconds","errorType":"Sandbox.Timedout"}`),
	}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteSyncEmptyResponseDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{raw: []byte(`{}`)}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteSyncUnparseableResponseDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{raw: []byte("not json")}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteSyncNotFoundSurfaces(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			return types.InvocationResponse{ErrorKind: "NotFound", Message: "object not found"}
		},
	}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/missing.jpg", "width=800")

	// No original to fall back to, so this one failure surfaces.
	require.Equal(t, ActionRespond, result.Action)
	assert.Equal(t, 404, result.Status)
	assert.Contains(t, string(result.Body), "NotFound")
}

func TestRouteSyncEngineErrorDegrades(t *testing.T) {
	renditions := memory.New()
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			return types.InvocationResponse{ErrorKind: "DecodeError", Message: "corrupt stream"}
		},
	}
	router := New(renditions, invoker, edgeConfig(config.ModeSync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
}

func TestRouteExistsFailureTreatedAsMiss(t *testing.T) {
	renditions := memory.New()
	renditions.ExistsErr = errors.NewError(errors.ErrCodeStorageRead, "head request failed")
	invoker := &fakeInvoker{}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	result := router.Route(context.Background(), "/album/photo.jpg", "width=800")

	assert.Equal(t, ActionPassthrough, result.Action)
	_, asyncCalls := invoker.calls()
	assert.Equal(t, 1, asyncCalls)
}

// End-to-end: a real engine behind the invocation boundary. The first
// request misses and triggers the transform; once the rendition lands,
// the same request rewrites to it.
func TestRouteMissThenHit(t *testing.T) {
	originals := memory.New()
	renditions := memory.New()
	originals.Seed("album/photo.jpg", encodeTestJPEG(t, 400, 300), "image/jpeg")

	eng := engine.New(originals, renditions, &engine.Config{MaxDimension: 10000, WriteRetries: 1}, nil)
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			result, err := eng.Transform(ctx, req)
			if err != nil {
				return types.InvocationResponse{ErrorKind: errors.KindOf(err), Message: err.Error()}
			}
			return types.InvocationResponse{ContentType: result.ContentType, Body: result.Data, Cached: result.Cached}
		},
	}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	first := router.Route(context.Background(), "/album/photo.jpg", "width=200&height=150")
	assert.Equal(t, ActionPassthrough, first.Action)
	assert.Equal(t, 1, renditions.Len())

	second := router.Route(context.Background(), "/album/photo.jpg", "width=200&height=150")
	require.Equal(t, ActionRewrite, second.Action)
	assert.Equal(t, "album/photo.jpg/200x150-inside-q85.jpeg", second.RewriteKey)

	_, asyncCalls := invoker.calls()
	assert.Equal(t, 1, asyncCalls)
}

// Concurrent misses for the same tuple may each trigger a transform, but
// they all converge on a single rendition.
func TestRouteConcurrentMissesConverge(t *testing.T) {
	originals := memory.New()
	renditions := memory.New()
	originals.Seed("album/photo.jpg", encodeTestJPEG(t, 400, 300), "image/jpeg")

	eng := engine.New(originals, renditions, &engine.Config{MaxDimension: 10000, WriteRetries: 1}, nil)
	invoker := &fakeInvoker{
		handler: func(ctx context.Context, req types.TransformRequest) types.InvocationResponse {
			result, err := eng.Transform(ctx, req)
			if err != nil {
				return types.InvocationResponse{ErrorKind: errors.KindOf(err), Message: err.Error()}
			}
			return types.InvocationResponse{ContentType: result.ContentType, Body: result.Data, Cached: result.Cached}
		},
	}
	router := New(renditions, invoker, edgeConfig(config.ModeAsync), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			router.Route(context.Background(), "/album/photo.jpg", "width=200")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, renditions.Len())

	result := router.Route(context.Background(), "/album/photo.jpg", "width=200")
	assert.Equal(t, ActionRewrite, result.Action)
}

func TestHandleEventRewrite(t *testing.T) {
	renditions := memory.New()
	renditions.Seed("album/photo.jpg/800x600-inside-q85.jpeg", []byte("cached"), "image/jpeg")
	cfg := edgeConfig(config.ModeAsync)
	cfg.RenditionsOrigin = "galerly-renditions.s3.us-east-1.amazonaws.com"
	router := New(renditions, &fakeInvoker{}, cfg, nil)

	ev := newTestEvent("/album/photo.jpg", "width=800&height=600")
	out, err := router.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	req, ok := out.(Request)
	require.True(t, ok)
	assert.Equal(t, "/album/photo.jpg/800x600-inside-q85.jpeg", req.URI)
	assert.Empty(t, req.QueryString)

	// The rewrite must retarget the origin at the renditions bucket; the
	// distribution's default origin is the originals bucket, where the
	// rendition key does not exist.
	require.NotNil(t, req.Origin)
	require.NotNil(t, req.Origin.S3)
	assert.Equal(t, "galerly-renditions.s3.us-east-1.amazonaws.com", req.Origin.S3.DomainName)
	assert.Equal(t, "none", req.Origin.S3.AuthMethod)
	require.Len(t, req.Headers["host"], 1)
	assert.Equal(t, "galerly-renditions.s3.us-east-1.amazonaws.com", req.Headers["host"][0].Value)
}

func TestHandleEventRewriteWithoutOriginConfigured(t *testing.T) {
	renditions := memory.New()
	renditions.Seed("album/photo.jpg/800x600-inside-q85.jpeg", []byte("cached"), "image/jpeg")
	router := New(renditions, &fakeInvoker{}, edgeConfig(config.ModeAsync), nil)

	ev := newTestEvent("/album/photo.jpg", "width=800&height=600")
	out, err := router.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	req, ok := out.(Request)
	require.True(t, ok)
	assert.Nil(t, req.Origin)
}

func TestHandleEventPassthrough(t *testing.T) {
	router := New(memory.New(), &fakeInvoker{}, edgeConfig(config.ModeAsync), nil)

	ev := newTestEvent("/album/photo.jpg", "")
	out, err := router.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	req, ok := out.(Request)
	require.True(t, ok)
	assert.Equal(t, "/album/photo.jpg", req.URI)
}

func TestHandleEventRespond(t *testing.T) {
	router := New(memory.New(), &fakeInvoker{}, edgeConfig(config.ModeAsync), nil)

	ev := newTestEvent("/album/photo.jpg", "width=0")
	out, err := router.HandleEvent(context.Background(), ev)
	require.NoError(t, err)

	resp, ok := out.(Response)
	require.True(t, ok)
	assert.Equal(t, "400", resp.Status)
	assert.Equal(t, "base64", resp.BodyEncoding)
	assert.Equal(t, "application/json", resp.Headers["content-type"][0].Value)
}

func TestHandleEventNoRecords(t *testing.T) {
	router := New(memory.New(), &fakeInvoker{}, edgeConfig(config.ModeAsync), nil)

	_, err := router.HandleEvent(context.Background(), Event{})
	assert.Error(t, err)
}

func newTestEvent(uri, query string) Event {
	payload := fmt.Sprintf(
		`{"Records":[{"cf":{"config":{"eventType":"origin-request"},"request":{"uri":%q,"querystring":%q,"method":"GET"}}}]}`,
		uri, query)
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		panic(err)
	}
	return ev
}

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}
