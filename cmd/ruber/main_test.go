package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/bert-ruber/internal/dataset"
	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/embedstore"
	"github.com/23skdu/bert-ruber/internal/ruber"
)

var (
	contexts   = []string{"今天 天气 怎么样", "你 叫 什么 名字", "晚饭 吃 了 吗", "明天 去 哪里 玩", "你 喜欢 音乐 吗"}
	references = []string{"今天 天气 很 好", "我 叫 小黄鸡", "吃 过 了", "去 公园 吧", "非常 喜欢"}
	replies    = []string{"天气 很 好", "我 是 小黄鸡", "还 没 吃", "公园", "喜欢 摇滚"}
	human1     = []float64{2, 1, 0, 1, 2}
	human2     = []float64{2, 1, 1, 1, 2}
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func writeScores(t *testing.T, path string, scores []float64) {
	t.Helper()
	lines := make([]string, len(scores))
	for i, s := range scores {
		lines[i] = fmt.Sprint(s)
	}
	writeLines(t, path, lines)
}

func mockEnv(t *testing.T, dataDir, ckptDir string) {
	t.Setenv("RUBER_DATA_DIR", dataDir)
	t.Setenv("RUBER_CHECKPOINT_DIR", ckptDir)
	t.Setenv("RUBER_EMBEDDING_PROVIDER", "mock")
	t.Setenv("RUBER_EMBEDDING_DIM", "8")
	t.Setenv("RUBER_MODEL_HIDDEN_DIM", "4")
	t.Setenv("RUBER_TRAIN_EPOCHS", "2")
	t.Setenv("RUBER_TRAIN_BATCH_SIZE", "2")
	t.Setenv("RUBER_LOG_LEVEL", "error")
}

func TestPipeline(t *testing.T) {
	chdir(t, t.TempDir())
	dataDir := t.TempDir()
	ckptDir := t.TempDir()
	mockEnv(t, dataDir, ckptDir)

	layout := dataset.Layout{Dir: filepath.Join(dataDir, "toy")}
	require.NoError(t, os.MkdirAll(layout.Dir, 0o755))
	for _, split := range dataset.Splits {
		writeLines(t, layout.Source(split), contexts)
		writeLines(t, layout.Target(split), references)
	}

	_, err := execute(t, "--mode", "process", "--dataset", "toy", "--metrics-addr", "")
	require.NoError(t, err)
	m, err := embedstore.Load(layout.SourceEmbeddings(dataset.SplitDev, embedstore.Ext))
	require.NoError(t, err)
	assert.Len(t, m.Vectors, len(contexts))

	_, err = execute(t, "train", "--dataset", "toy", "--metrics-addr", "")
	require.NoError(t, err)
	_, err = ruber.SelectBest(filepath.Join(ckptDir, "toy"), ruber.ByAccuracy)
	require.NoError(t, err)

	evalDir := t.TempDir()
	files := map[string]string{}
	for name, lines := range map[string][]string{"context": contexts, "reference": references, "reply": replies} {
		files[name] = filepath.Join(evalDir, name+".txt")
		writeLines(t, files[name], lines)
	}
	files["human1"] = filepath.Join(evalDir, "h1.txt")
	files["human2"] = filepath.Join(evalDir, "h2.txt")
	writeScores(t, files["human1"], human1)
	writeScores(t, files["human2"], human2)

	out, err := execute(t, "evaluate", "--dataset", "toy", "--metrics-addr", "",
		"--context", files["context"], "--reference", files["reference"], "--reply", files["reply"],
		"--human1", files["human1"], "--human2", files["human2"])
	require.NoError(t, err)

	last := -1
	for _, name := range []string{"Human", "BLEU-1", "BLEU-2", "BLEU-3", "BLEU-4", "BERT s_U", "BERT s_R", "BERT RUBER"} {
		idx := strings.Index(out, "========== Method "+name+" result ==========")
		require.GreaterOrEqual(t, idx, 0, name)
		assert.Greater(t, idx, last, name)
		last = idx
	}
}

func TestCalculateMode(t *testing.T) {
	chdir(t, t.TempDir())
	dir := t.TempDir()
	t.Setenv("RUBER_DATA_DIR", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "toy"), 0o755))
	writeLines(t, filepath.Join(dir, "toy", "result.txt"), []string{
		"su_p: 0.25(0.01), su_s: 0.5(0.02)",
		"sr_p: 0.1(0.3), sr_s: 0.2(0.3)",
		"u_p: 0.75(0.001), u_s: 0.5(0.002)",
	})

	out, err := execute(t, "--mode", "calculate", "--dataset", "toy")
	require.NoError(t, err)
	assert.Equal(t,
		"Unrefer Avg pearson: 0.25, Unrefer Avg spearman: 0.5\nRUBER Avg pearson: 0.75, RUBER Avg spearman: 0.5\n",
		out)
}

func TestUnknownMode(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := execute(t, "--mode", "dance")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestEvaluateRejectsMisalignedInput(t *testing.T) {
	in := &evalInput{
		Contexts:   contexts,
		References: references,
		Replies:    replies[:3],
		Human1:     human1,
		Human2:     human2,
	}
	err := in.validate()
	require.ErrorIs(t, err, dataset.ErrLengthMismatch)
	assert.Contains(t, err.Error(), "replies")
}

func TestEvaluateReport(t *testing.T) {
	p := embedding.NewMockProvider(8)
	m, err := ruber.NewModel(ruber.ModelConfig{EmbeddingDim: 8, HiddenDim: 4, Device: ruber.DeviceCPU, Seed: 3})
	require.NoError(t, err)

	in := &evalInput{Contexts: contexts, References: references, Replies: replies, Human1: human1, Human2: human1}
	var out bytes.Buffer
	require.NoError(t, evaluate(context.Background(), p, m, in, ruber.MethodMin, ruber.DefaultOptions(), &out))

	assert.True(t, strings.HasPrefix(out.String(),
		"========== Method Human result ==========\nPearson(p-value): 1.0(0.0)\nSpearman(p-value): 1.0(0.0)\n"))
	assert.Equal(t, 32, strings.Count(out.String(), "=========="))
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
