package ruber

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/bert-ruber/internal/embedding"
)

func newRUBER(t *testing.T, p embedding.Provider, opts Options) *RUBER {
	t.Helper()
	m := tinyModel(t, p.Dim(), 4)
	r, err := New(p, m, opts)
	require.NoError(t, err)
	return r
}

var (
	contexts     = []string{"你好", "今天 天气 怎么样", "", "你 叫 什么"}
	groundtruths = []string{"你好啊", "天气 很好", "嗯", "我 叫 小黄鸡"}
	replies      = []string{"你好啊", "不 知道", "", "我 是 机器人"}
)

func TestScores(t *testing.T) {
	ctx := context.Background()
	p := embedding.NewMockProvider(16)
	r := newRUBER(t, p, Options{BatchSize: 3})

	res, err := r.Scores(ctx, contexts, groundtruths, replies, MethodMin)
	require.NoError(t, err)
	require.Len(t, res.Hybrid, 4)
	assert.Equal(t, 2*2, p.Calls(), "two provider calls for each of the two chunks")

	for _, list := range [][]float64{res.Referenced, res.Unreferenced} {
		lo, hi := list[0], list[0]
		for _, v := range list {
			lo, hi = min(lo, v), max(hi, v)
		}
		assert.Equal(t, 0.0, lo)
		assert.Equal(t, 1.0, hi)
	}
	assert.Equal(t, 1.0, res.Referenced[0], "identical ground truth and reply score highest")

	for i, rec := range res.Records() {
		assert.Equal(t, min(rec.Referenced, rec.Unreferenced), rec.Hybrid, "row %d", i)
	}

	hi, err := r.Scores(ctx, contexts, groundtruths, replies, MethodMax)
	require.NoError(t, err)
	for i := range hi.Hybrid {
		assert.Equal(t, max(hi.Referenced[i], hi.Unreferenced[i]), hi.Hybrid[i])
	}
}

func TestScoresMatchSingleScore(t *testing.T) {
	ctx := context.Background()
	r := newRUBER(t, embedding.NewMockProvider(8), DefaultOptions())

	u, s, err := r.Score(ctx, "今天 天气 怎么样", "天气 很好", "不 知道")
	require.NoError(t, err)

	u2, s2, err := r.Score(ctx, "今天天气怎么样", "天气很好", "不知道")
	require.NoError(t, err)
	assert.Equal(t, u, u2)
	assert.Equal(t, s, s2)
	assert.GreaterOrEqual(t, u, 0.0)
	assert.LessOrEqual(t, u, 1.0)
}

func TestScoresMultiTurnContexts(t *testing.T) {
	ctx := context.Background()
	p := embedding.NewMockProvider(8)
	opts := DefaultOptions()
	opts.MultiTurn = true
	r := newRUBER(t, p, opts)

	multi := []string{"你好 __eou__ 你好啊 __eou__ 吃了吗", "在吗", "早 __eou__ 早上好"}
	res, err := r.Scores(ctx, multi, []string{"吃了", "在", "早"}, []string{"吃过了", "不在", "早安"}, MethodMin)
	require.NoError(t, err)
	assert.Len(t, res.Hybrid, 3)
}

func TestScoresErrors(t *testing.T) {
	ctx := context.Background()
	p := embedding.NewMockProvider(8)
	r := newRUBER(t, p, DefaultOptions())

	_, err := r.Scores(ctx, []string{"a"}, []string{"b", "c"}, []string{"d"}, MethodMin)
	assert.Error(t, err)

	_, err = r.Scores(ctx, contexts, groundtruths, replies, Method("Avg"))
	assert.ErrorIs(t, err, ErrUnsupportedMethod)

	// a single example has no spread to normalize over
	_, err = r.Scores(ctx, contexts[:1], groundtruths[:1], replies[:1], MethodMin)
	assert.ErrorIs(t, err, ErrConstantScores)

	p.FailWith(assert.AnError)
	_, err = r.Scores(ctx, contexts, groundtruths, replies, MethodMin)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestNewRejectsDimensionMismatch(t *testing.T) {
	m := tinyModel(t, 4, 2)
	_, err := New(embedding.NewMockProvider(8), m, DefaultOptions())
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestScoresProgressOutput(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Progress = &buf
	r := newRUBER(t, embedding.NewMockProvider(8), opts)

	_, err := r.Scores(context.Background(), contexts, groundtruths, replies, MethodMin)
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}
