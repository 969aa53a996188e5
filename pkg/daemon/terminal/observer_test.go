package terminal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-assist/spectra/pkg/llm"
)

// fakeObserverClient returns scripted responses in order. A non-nil entry
// in errs at the same index simulates a failed call.
type fakeObserverClient struct {
	t         *testing.T
	mu        sync.Mutex
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (f *fakeObserverClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	require.Less(f.t, i, len(f.responses), "unexpected extra observer call")
	return f.responses[i], nil
}

func jsonObs(state, obs, result string) *llm.ChatResponse {
	text := `{"state":"` + state + `","observation":"` + obs + `"`
	if result != "" {
		text += `,"result":"` + result + `"`
	}
	text += `}`
	return &llm.ChatResponse{Text: text}
}

func newTestObserver(client ObserverClient) (*observer, *[]observation) {
	var delivered []observation
	o := &observer{
		client:   client,
		goal:     "run the tests",
		window:   newRollingWindow(),
		activity: make(chan struct{}, 1),
		onState:  func(obs observation) { delivered = append(delivered, obs) },
	}
	return o, &delivered
}

func TestClassifyDeliversWorkingObservation(t *testing.T) {
	client := &fakeObserverClient{t: t, responses: []*llm.ChatResponse{
		jsonObs("working", "compiling the project", ""),
	}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("$ go build ./...\n"))

	terminal := o.classify(context.Background())
	assert.False(t, terminal)
	require.Len(t, *delivered, 1)
	assert.Equal(t, stateWorking, (*delivered)[0].State)
	assert.Equal(t, "compiling the project", (*delivered)[0].Observation)
}

func TestClassifyCoalescesIdenticalWorking(t *testing.T) {
	client := &fakeObserverClient{t: t, responses: []*llm.ChatResponse{
		jsonObs("working", "running tests", ""),
		jsonObs("working", "running tests", ""),
		jsonObs("working", "writing a fix", ""),
	}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("test output\n"))

	o.classify(context.Background())
	o.window.Append([]byte("more output\n"))
	o.classify(context.Background())
	o.window.Append([]byte("even more\n"))
	o.classify(context.Background())

	require.Len(t, *delivered, 2, "identical consecutive observations drop")
	assert.Equal(t, "running tests", (*delivered)[0].Observation)
	assert.Equal(t, "writing a fix", (*delivered)[1].Observation)
}

func TestClassifyTerminalStopsLoop(t *testing.T) {
	client := &fakeObserverClient{t: t, responses: []*llm.ChatResponse{
		jsonObs("completed", "all done", "fixed 2 tests, suite green"),
	}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("All tests pass\n"))

	terminal := o.classify(context.Background())
	assert.True(t, terminal)
	require.Len(t, *delivered, 1)
	assert.Equal(t, stateCompleted, (*delivered)[0].State)
	assert.Equal(t, "fixed 2 tests, suite green", (*delivered)[0].Result)
}

func TestDeliverTerminalExactlyOnce(t *testing.T) {
	o, delivered := newTestObserver(&fakeObserverClient{t: t})

	o.deliver(observation{State: stateCompleted, Result: "done"})
	o.deliver(observation{State: stateFailed, Result: "late failure"})

	require.Len(t, *delivered, 1)
	assert.Equal(t, stateCompleted, (*delivered)[0].State)
}

func TestAwaitingInputDoesNotStopLoop(t *testing.T) {
	client := &fakeObserverClient{t: t, responses: []*llm.ChatResponse{
		jsonObs("awaiting_input", "asking which file to edit", ""),
	}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("Which file should I edit?\n"))

	terminal := o.classify(context.Background())
	assert.False(t, terminal)
	require.Len(t, *delivered, 1)
	assert.Equal(t, stateAwaitingInput, (*delivered)[0].State)
}

func TestConsecutiveFailuresFailTheRun(t *testing.T) {
	boom := errors.New("model unavailable")
	client := &fakeObserverClient{t: t, errs: []error{boom, boom, boom}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("output\n"))

	assert.False(t, o.classify(context.Background()))
	assert.False(t, o.classify(context.Background()))
	terminal := o.classify(context.Background())
	assert.True(t, terminal)

	require.Len(t, *delivered, 1)
	assert.Equal(t, stateFailed, (*delivered)[0].State)
	assert.Contains(t, (*delivered)[0].Result, "could not classify")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	boom := errors.New("flaky")
	client := &fakeObserverClient{
		t:    t,
		errs: []error{boom, boom, nil, boom, boom},
		responses: []*llm.ChatResponse{
			nil, nil, jsonObs("working", "recovered", ""),
		},
	}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("output\n"))

	assert.False(t, o.classify(context.Background()))
	assert.False(t, o.classify(context.Background()))
	assert.False(t, o.classify(context.Background()))
	o.window.Append([]byte("more\n"))
	assert.False(t, o.classify(context.Background()))
	assert.False(t, o.classify(context.Background()), "two failures after a success do not terminate")

	require.Len(t, *delivered, 1)
	assert.Equal(t, "recovered", (*delivered)[0].Observation)
}

func TestUnparseableObservationCountsAsFailure(t *testing.T) {
	client := &fakeObserverClient{t: t, responses: []*llm.ChatResponse{
		{Text: "not json at all"},
	}}
	o, delivered := newTestObserver(client)
	o.window.Append([]byte("output\n"))

	assert.False(t, o.classify(context.Background()))
	assert.Empty(t, *delivered)
	assert.Equal(t, 1, o.failures)
}

func TestClassifySkipsEmptyWindow(t *testing.T) {
	client := &fakeObserverClient{t: t}
	o, delivered := newTestObserver(client)

	assert.False(t, o.classify(context.Background()))
	assert.Empty(t, *delivered)
	assert.Equal(t, 0, client.calls)
}
