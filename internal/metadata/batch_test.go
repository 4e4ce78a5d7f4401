package metadata

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, title, body string) (Metadata, error) {
	args := m.Called(ctx, title, body)
	return args.Get(0).(Metadata), args.Error(1)
}

type countingGate struct{ waits int }

func (g *countingGate) Wait(ctx context.Context) error {
	g.waits++
	return ctx.Err()
}

type recordingSleeper struct{ sleeps []time.Duration }

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func inputs(n int) []Input {
	out := make([]Input, n)
	for i := range out {
		out[i] = Input{Key: fmt.Sprint(i), Title: fmt.Sprintf("title-%d", i), Body: "body"}
	}
	return out
}

func withRegion(region string) Metadata {
	md := EmptyMetadata()
	md.Region = &region
	return md
}

func TestBatchRunAllSucceed(t *testing.T) {
	a := &mockAnalyzer{}
	a.On("Analyze", mock.Anything, mock.Anything, "body").Return(withRegion("서울"), nil)
	gate := &countingGate{}
	sleeper := &recordingSleeper{}

	res := Batch{Analyzer: a, Gate: gate, BatchSize: 2, Pause: 2 * time.Second, Sleeper: sleeper}.
		Run(context.Background(), inputs(5))

	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 5, res.Succeeded)
	assert.Zero(t, res.Skipped)
	assert.False(t, res.QuotaExceeded)
	assert.Equal(t, 5, gate.waits)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.sleeps, "pause between three batches")
	require.Len(t, res.Results, 5)
	assert.Equal(t, "title-4", res.Results[4].Title)
	assert.Equal(t, "서울", *res.Results[4].Metadata.Region)
	a.AssertNumberOfCalls(t, "Analyze", 5)
}

func TestBatchRunQuotaStopsImmediately(t *testing.T) {
	a := &mockAnalyzer{}
	quota := &Error{Kind: KindQuotaExceeded, Err: errors.New("429")}
	a.On("Analyze", mock.Anything, "title-0", mock.Anything).Return(withRegion("부산"), nil).Once()
	a.On("Analyze", mock.Anything, "title-1", mock.Anything).Return(EmptyMetadata(), quota).Once()

	res := Batch{Analyzer: a, BatchSize: 10, Sleeper: &recordingSleeper{}}.Run(context.Background(), inputs(4))

	assert.True(t, res.QuotaExceeded)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Skipped)
	assert.False(t, res.Results[1].Skipped)
	assert.Equal(t, KindQuotaExceeded, KindOf(res.Results[1].Err))
	assert.True(t, res.Results[2].Skipped)
	assert.True(t, res.Results[3].Skipped)
	assert.True(t, res.Results[3].Metadata.IsEmpty())
	a.AssertNumberOfCalls(t, "Analyze", 2)
}

func TestBatchRunMalformedContinues(t *testing.T) {
	a := &mockAnalyzer{}
	bad := withRegion("garbage")
	a.On("Analyze", mock.Anything, "title-0", mock.Anything).Return(bad, malformed(errors.New("x"))).Once()
	a.On("Analyze", mock.Anything, "title-1", mock.Anything).Return(withRegion("대구"), nil).Once()

	res := Batch{Analyzer: a, BatchSize: 10}.Run(context.Background(), inputs(2))

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Succeeded)
	assert.ErrorIs(t, res.Results[0].Err, ErrMalformed)
	assert.True(t, res.Results[0].Metadata.IsEmpty())
	assert.Equal(t, "대구", *res.Results[1].Metadata.Region)
}

func TestBatchRunCanceled(t *testing.T) {
	a := &mockAnalyzer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Batch{Analyzer: a, Gate: &countingGate{}, BatchSize: 2}.Run(ctx, inputs(3))

	assert.Zero(t, res.Processed)
	assert.Equal(t, 3, res.Skipped)
	a.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestBatchRunCanceledDuringCall(t *testing.T) {
	a := &mockAnalyzer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.On("Analyze", mock.Anything, "title-0", "body").
		Run(func(mock.Arguments) { cancel() }).
		Return(EmptyMetadata(), context.Canceled).Once()

	res := Batch{Analyzer: a, BatchSize: 5}.Run(ctx, inputs(3))

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	assert.True(t, res.Results[2].Skipped)
	a.AssertNumberOfCalls(t, "Analyze", 1)
}

func TestBatchRunEmpty(t *testing.T) {
	res := Batch{Analyzer: &mockAnalyzer{}}.Run(context.Background(), nil)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.Processed)
}
