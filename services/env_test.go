package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"omip-curator/providers"
	"omip-curator/queue"
	"omip-curator/repository/repotest"
	"omip-curator/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeParser struct {
	mu    sync.Mutex
	fn    func(doc providers.Document, call int) (json.RawMessage, error)
	calls map[string]int
}

func (p *fakeParser) Parse(_ context.Context, doc providers.Document) (json.RawMessage, error) {
	p.mu.Lock()
	p.calls[doc.Filename]++
	call := p.calls[doc.Filename]
	fn := p.fn
	p.mu.Unlock()
	if fn == nil {
		return payloadFor(doc.Filename), nil
	}
	return fn(doc, call)
}

func (p *fakeParser) Name() string { return "fake" }

func (p *fakeParser) setFn(fn func(doc providers.Document, call int) (json.RawMessage, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fn = fn
}

func (p *fakeParser) callsFor(filename string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[filename]
}

type testEnv struct {
	svc     *CurationService
	objects *storage.MemoryStore
	queue   *queue.MemoryQueue
	parser  *fakeParser
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		objects: storage.NewMemoryStore(),
		queue:   queue.NewMemoryQueue(5 * time.Millisecond),
		parser:  &fakeParser{calls: map[string]int{}},
	}
	env.svc = NewCurationService(repotest.OpenStore(t), env.objects, env.parser, env.queue, zap.NewNop())
	return env
}

// drain works the queue on the calling goroutine until it is empty, the way
// a worker without retries would. It returns the number of jobs handled.
func (e *testEnv) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	n := 0
	for {
		d, err := e.queue.Reserve(ctx, "test-0")
		require.NoError(t, err)
		if d == nil {
			return n
		}
		n++
		if err := e.svc.ProcessDocument(ctx, d.Job); err != nil {
			require.NoError(t, e.svc.FailRun(ctx, d.Job, err))
		}
		require.NoError(t, e.queue.Ack(ctx, "test-0", d))
	}
}

func uploads(n int) []Upload {
	out := make([]Upload, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Upload{
			Filename: fmt.Sprintf("paper-%03d.pdf", i),
			Data:     []byte(fmt.Sprintf("%%PDF-1.4\n%% paper %d\n", i)),
		})
	}
	return out
}

func payloadFor(filename string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"omip_id": "OMIP-001", "title": %q, "authors": ["A. Author", "B. Author"], "year": 2020,
 "tables": [{"number": "1", "caption": "Panel", "rows": [[{"text": "Marker"}, {"text": "Clone"}], [{"text": "CD3"}, {"text": "UCHT1"}]], "confidence": 0.8}],
 "figures": [{"number": "1", "caption": "Gating", "image": null, "confidence": null}]}`, "Title of "+filename))
}

func ptr[T any](v T) *T { return &v }
